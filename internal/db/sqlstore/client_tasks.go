package sqlstore

import (
	"context"
	"fmt"

	"github.com/iamwavecut/forumwarden/internal/db"
)

func (c *Client) ListForceDeleteTasks(ctx context.Context) ([]*db.ForceDeleteTask, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var tasks []*db.ForceDeleteTask
	err := c.db.SelectContext(ctx, &tasks, `
		SELECT group_id, content_id, object_type, thread_id, bot_identity, chat_message_id,
			forum_id, operator_id, expire_at, attempts
		FROM force_delete_tasks
		ORDER BY expire_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list force delete tasks: %w", err)
	}
	return tasks, nil
}

func (c *Client) UpsertForceDeleteTask(ctx context.Context, task *db.ForceDeleteTask) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO force_delete_tasks (
			group_id, content_id, object_type, thread_id, bot_identity, chat_message_id,
			forum_id, operator_id, expire_at, attempts
		) VALUES (
			:group_id, :content_id, :object_type, :thread_id, :bot_identity, :chat_message_id,
			:forum_id, :operator_id, :expire_at, :attempts
		)
		ON CONFLICT(group_id, content_id) DO UPDATE SET
			object_type = excluded.object_type,
			thread_id = excluded.thread_id,
			bot_identity = excluded.bot_identity,
			chat_message_id = excluded.chat_message_id,
			forum_id = excluded.forum_id,
			operator_id = excluded.operator_id,
			expire_at = excluded.expire_at,
			attempts = excluded.attempts
	`
	if _, err := c.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("upsert force delete task %d/%d: %w", task.GroupID, task.ContentID, err)
	}
	return nil
}

func (c *Client) DeleteForceDeleteTask(ctx context.Context, groupID, contentID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, c.db.Rebind(`DELETE FROM force_delete_tasks WHERE group_id = ? AND content_id = ?`), groupID, contentID)
	if err != nil {
		return fmt.Errorf("delete force delete task %d/%d: %w", groupID, contentID, err)
	}
	return nil
}
