package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iamwavecut/forumwarden/internal/db"
)

func (c *Client) GetGroup(ctx context.Context, id int64) (*db.Group, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var group db.Group
	err := c.db.GetContext(ctx, &group, c.db.Rebind(`
		SELECT id, forum_id, forum_name, credential, bot_identity, language
		FROM moderation_groups
		WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group %d: %w", id, err)
	}
	return &group, nil
}

func (c *Client) GetGroupByForum(ctx context.Context, forumID int64) (*db.Group, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var group db.Group
	err := c.db.GetContext(ctx, &group, c.db.Rebind(`
		SELECT id, forum_id, forum_name, credential, bot_identity, language
		FROM moderation_groups
		WHERE forum_id = ?
	`), forumID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group by forum %d: %w", forumID, err)
	}
	return &group, nil
}

func (c *Client) UpsertGroup(ctx context.Context, group *db.Group) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO moderation_groups (id, forum_id, forum_name, credential, bot_identity, language)
		VALUES (:id, :forum_id, :forum_name, :credential, :bot_identity, :language)
		ON CONFLICT(id) DO UPDATE SET
			forum_id = excluded.forum_id,
			forum_name = excluded.forum_name,
			credential = excluded.credential,
			bot_identity = excluded.bot_identity,
			language = excluded.language
	`
	if _, err := c.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("upsert group %d: %w", group.ID, err)
	}
	return nil
}

func (c *Client) GetRule(ctx context.Context, id int64) (*db.Rule, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var rule db.Rule
	err := c.db.GetContext(ctx, &rule, c.db.Rebind(`
		SELECT id, group_id, name, priority, actions
		FROM rules
		WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rule %d: %w", id, err)
	}
	return &rule, nil
}

func (c *Client) UpsertRule(ctx context.Context, rule *db.Rule) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO rules (id, group_id, name, priority, actions)
		VALUES (:id, :group_id, :name, :priority, :actions)
		ON CONFLICT(id) DO UPDATE SET
			group_id = excluded.group_id,
			name = excluded.name,
			priority = excluded.priority,
			actions = excluded.actions
	`
	if _, err := c.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("upsert rule %d: %w", rule.ID, err)
	}
	return nil
}
