package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iamwavecut/forumwarden/internal/db"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewSQLiteClient(context.Background(), t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRuleRoundTripKeepsActions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	rule := &db.Rule{
		ID:       7,
		GroupID:  -100500,
		Name:     "links",
		Priority: 3,
		Actions: db.RuleActions{
			Delete: db.DeleteAction{Enabled: true},
			Ban:    db.BanAction{Enabled: true, Days: 3},
			Notify: db.NotifyAction{Enabled: true, Template: "ai"},
		},
	}
	if err := client.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("upsert rule: %v", err)
	}

	got, err := client.GetRule(ctx, 7)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got == nil {
		t.Fatalf("rule not found")
	}
	if got.Actions != rule.Actions {
		t.Fatalf("unexpected actions: got %#v want %#v", got.Actions, rule.Actions)
	}

	rule.Actions.Ban.Enabled = false
	if err := client.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("update rule: %v", err)
	}
	got, err = client.GetRule(ctx, 7)
	if err != nil {
		t.Fatalf("get updated rule: %v", err)
	}
	if got.Actions.Ban.Enabled {
		t.Fatalf("expected ban action to be disabled after update")
	}
}

func TestGetRuleAbsentReturnsNil(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	rule, err := client.GetRule(context.Background(), 404)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if rule != nil {
		t.Fatalf("expected nil rule, got %#v", rule)
	}
}

func TestGetRuleReportsCorruptActions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)
	if _, err := client.db.ExecContext(ctx, `INSERT INTO rules (id, group_id, name, priority, actions) VALUES (8, -1, 'broken', 0, '{"delete":')`); err != nil {
		t.Fatalf("insert broken rule: %v", err)
	}

	_, err := client.GetRule(ctx, 8)
	if !errors.Is(err, db.ErrCorruptRow) {
		t.Fatalf("expected ErrCorruptRow, got %v", err)
	}
}

func TestGroupLookupByForum(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	group := &db.Group{ID: -1001, ForumID: 42, ForumName: "golang", Credential: "secret", Language: "zh"}
	if err := client.UpsertGroup(ctx, group); err != nil {
		t.Fatalf("upsert group: %v", err)
	}

	got, err := client.GetGroupByForum(ctx, 42)
	if err != nil {
		t.Fatalf("get group by forum: %v", err)
	}
	if got == nil || *got != *group {
		t.Fatalf("unexpected group: %#v", got)
	}

	missing, err := client.GetGroupByForum(ctx, 43)
	if err != nil {
		t.Fatalf("get missing group: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil group, got %#v", missing)
	}
}

func TestForceDeleteTaskLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	expireAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	task := &db.ForceDeleteTask{
		GroupID:       -1001,
		ContentID:     9001,
		ObjectType:    "post",
		ThreadID:      77,
		ChatMessageID: 15,
		ForumID:       42,
		OperatorID:    5,
		ExpireAt:      expireAt,
	}
	if err := client.UpsertForceDeleteTask(ctx, task); err != nil {
		t.Fatalf("upsert task: %v", err)
	}
	task.Attempts = 4
	if err := client.UpsertForceDeleteTask(ctx, task); err != nil {
		t.Fatalf("update task: %v", err)
	}

	tasks, err := client.ListForceDeleteTasks(ctx)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Attempts != 4 || tasks[0].ThreadID != 77 {
		t.Fatalf("unexpected task: %#v", tasks[0])
	}
	if !tasks[0].ExpireAt.Equal(expireAt) {
		t.Fatalf("unexpected expire_at: got %s want %s", tasks[0].ExpireAt, expireAt)
	}

	if err := client.DeleteForceDeleteTask(ctx, task.GroupID, task.ContentID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	tasks, err = client.ListForceDeleteTasks(ctx)
	if err != nil {
		t.Fatalf("list tasks after delete: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(tasks))
	}
}

func TestUnsupportedDriver(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(context.Background(), "mysql", "dsn"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
