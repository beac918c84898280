package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/forumwarden/internal/correlation"
	"github.com/iamwavecut/forumwarden/internal/db"
	"github.com/iamwavecut/forumwarden/internal/forcedelete"
	"github.com/iamwavecut/forumwarden/internal/forum"
)

const (
	testChatID  = int64(-100)
	testForumID = int64(55)
	moderatorID = int64(7)
	memberID    = int64(8)
)

type stubMembers struct{}

func (stubMembers) GetChatMember(config api.GetChatMemberConfig) (api.ChatMember, error) {
	if config.UserID == moderatorID {
		return api.ChatMember{Status: "administrator", CanRestrictMembers: true}, nil
	}
	return api.ChatMember{Status: "member"}, nil
}

type stubCorrelation struct {
	entries map[correlation.MessageRef]*correlation.Entry
}

func (s *stubCorrelation) Get(_ context.Context, ref correlation.MessageRef) (*correlation.Entry, error) {
	return s.entries[ref], nil
}

type stubGroups struct{}

func (stubGroups) GetGroup(_ context.Context, id int64) (*db.Group, error) {
	if id != testChatID {
		return nil, nil
	}
	return &db.Group{ID: testChatID, ForumID: testForumID}, nil
}

type recordingClient struct {
	mu        sync.Mutex
	deletes   []int64
	bans      []int
	deleteErr error
}

func (c *recordingClient) DeleteThread(_ context.Context, _, threadID int64) (bool, error) {
	return c.recordDelete(threadID)
}

func (c *recordingClient) DeletePost(_ context.Context, _, _, postID int64) (bool, error) {
	return c.recordDelete(postID)
}

func (c *recordingClient) recordDelete(id int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes = append(c.deletes, id)
	if c.deleteErr != nil {
		return false, c.deleteErr
	}
	return true, nil
}

func (c *recordingClient) Ban(_ context.Context, _ int64, _ forum.Author, days int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bans = append(c.bans, days)
	return true, nil
}

type stubPool struct {
	client *recordingClient
}

func (p *stubPool) Get(context.Context, int64) (forum.Client, error) {
	return p.client, nil
}

type recordingTasks struct {
	added     []*db.ForceDeleteTask
	cancelled []forcedelete.Key
	live      map[forcedelete.Key]bool
}

func (q *recordingTasks) Add(_ context.Context, t *db.ForceDeleteTask) error {
	key := forcedelete.KeyOf(t)
	if q.live[key] {
		return forcedelete.ErrAlreadyQueued
	}
	q.live[key] = true
	q.added = append(q.added, t)
	return nil
}

func (q *recordingTasks) Cancel(_ context.Context, key forcedelete.Key) (bool, error) {
	q.cancelled = append(q.cancelled, key)
	ok := q.live[key]
	delete(q.live, key)
	return ok, nil
}

type recordingReplier struct {
	texts []string
}

func (r *recordingReplier) Reply(_ context.Context, _ int64, _ int, text string) (int, error) {
	r.texts = append(r.texts, text)
	return len(r.texts), nil
}

type fixture struct {
	handler *Escalation
	client  *recordingClient
	tasks   *recordingTasks
	replier *recordingReplier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"tid":    10,
		"pid":    20,
		"floor":  3,
		"text":   "buy now",
		"author": map[string]any{"user_id": 5, "user_name": "spammer"},
	})
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	corr := &stubCorrelation{entries: map[correlation.MessageRef]*correlation.Entry{
		{ChatID: testChatID, MessageID: 101}: {
			GroupID:    testChatID,
			ForumID:    testForumID,
			ObjectType: forum.ObjectPost,
			ObjectData: data,
		},
	}}

	f := &fixture{
		client:  &recordingClient{},
		tasks:   &recordingTasks{live: map[forcedelete.Key]bool{}},
		replier: &recordingReplier{},
	}
	f.handler = NewEscalation(stubMembers{}, corr, stubGroups{}, &stubPool{client: f.client}, f.tasks, f.replier, Config{
		DeleteReactions: []string{"👎"},
		BanReactions:    []string{"💩"},
		DefaultBanDays:  1,
	})
	return f
}

func replyUpdate(userID int64, text string, replyTo int) (*api.Update, *api.Chat, *api.User) {
	chat := &api.Chat{ID: testChatID, Type: "supergroup"}
	user := &api.User{ID: userID}
	return &api.Update{Message: &api.Message{
		MessageID:      500,
		From:           user,
		Text:           text,
		ReplyToMessage: &api.Message{MessageID: replyTo},
	}}, chat, user
}

func commandUpdate(userID int64, command, args string) (*api.Update, *api.Chat, *api.User) {
	chat := &api.Chat{ID: testChatID, Type: "supergroup"}
	user := &api.User{ID: userID}
	text := "/" + command
	if args != "" {
		text += " " + args
	}
	return &api.Update{Message: &api.Message{
		MessageID: 600,
		From:      user,
		Text:      text,
		Entities: []api.MessageEntity{{
			Type:   "bot_command",
			Offset: 0,
			Length: len(command) + 1,
		}},
	}}, chat, user
}

func TestParseKeyword(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		act  action
		days int
		ok   bool
	}{
		{"delete", actionDelete, 0, true},
		{"  DELETE please", actionDelete, 0, true},
		{"删除", actionDelete, 0, true},
		{"ban 3", actionBan, 3, true},
		{"ban x", actionBan, 0, true},
		{"封禁", actionBan, 0, true},
		{"查询", actionLookup, 0, true},
		{"强制删除", actionForce, 0, true},
		{"cancel", actionCancel, 0, true},
		{"nice post", "", 0, false},
		{"", "", 0, false},
	}
	for _, tt := range tests {
		act, days, ok := parseKeyword(tt.text)
		if act != tt.act || days != tt.days || ok != tt.ok {
			t.Fatalf("parseKeyword(%q) = %q, %d, %v", tt.text, act, days, ok)
		}
	}
}

func TestReplyDeleteRunsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u, chat, user := replyUpdate(moderatorID, "delete", 101)
	proceed, err := f.handler.Handle(context.Background(), u, chat, user)
	if err != nil || proceed {
		t.Fatalf("unexpected result: proceed=%v err=%v", proceed, err)
	}
	if len(f.client.deletes) != 1 || f.client.deletes[0] != 20 {
		t.Fatalf("unexpected delete calls: %v", f.client.deletes)
	}
	if len(f.replier.texts) != 1 || f.replier.texts[0] != "Deleted" {
		t.Fatalf("unexpected replies: %q", f.replier.texts)
	}
}

func TestReplyDeleteReportsFatalReason(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.client.deleteErr = &forum.APIError{Code: forum.CodePermissionDenied, Msg: "no rights"}
	u, chat, user := replyUpdate(moderatorID, "删除", 101)
	if _, err := f.handler.Handle(context.Background(), u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.client.deletes) != 1 {
		t.Fatalf("fatal error should not be retried, got %d calls", len(f.client.deletes))
	}
	if len(f.replier.texts) != 1 || f.replier.texts[0] != "Delete failed: 1989002 no rights" {
		t.Fatalf("unexpected replies: %q", f.replier.texts)
	}
}

func TestReplyBanUsesRequestedDays(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u, chat, user := replyUpdate(moderatorID, "ban 3", 101)
	if _, err := f.handler.Handle(context.Background(), u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.client.bans) != 1 || f.client.bans[0] != 3 {
		t.Fatalf("unexpected ban calls: %v", f.client.bans)
	}
	if f.replier.texts[0] != "Banned for 3 days" {
		t.Fatalf("unexpected replies: %q", f.replier.texts)
	}
}

func TestReplyIgnoredForRegularMembers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u, chat, user := replyUpdate(memberID, "delete", 101)
	if _, err := f.handler.Handle(context.Background(), u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.client.deletes) != 0 || len(f.replier.texts) != 0 {
		t.Fatalf("member should be ignored: deletes=%v replies=%q", f.client.deletes, f.replier.texts)
	}
}

func TestReplyToUntrackedMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u, chat, user := replyUpdate(moderatorID, "delete", 999)
	if _, err := f.handler.Handle(context.Background(), u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.client.deletes) != 0 {
		t.Fatalf("unexpected delete calls: %v", f.client.deletes)
	}
	if len(f.replier.texts) != 1 || f.replier.texts[0] != "This message is no longer tracked" {
		t.Fatalf("unexpected replies: %q", f.replier.texts)
	}
}

func TestReplyWithoutKeywordProceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u, chat, user := replyUpdate(moderatorID, "thanks", 101)
	proceed, err := f.handler.Handle(context.Background(), u, chat, user)
	if err != nil || !proceed {
		t.Fatalf("unexpected result: proceed=%v err=%v", proceed, err)
	}
}

func TestReplyLookupAndForce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	u, chat, user := replyUpdate(moderatorID, "lookup", 101)
	if _, err := f.handler.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if f.replier.texts[0] != "post 20 (floor 3, thread 10) by spammer" {
		t.Fatalf("unexpected lookup reply: %q", f.replier.texts)
	}

	u, chat, user = replyUpdate(moderatorID, "force", 101)
	for range 2 {
		if _, err := f.handler.Handle(ctx, u, chat, user); err != nil {
			t.Fatalf("force: %v", err)
		}
	}
	if len(f.tasks.added) != 1 {
		t.Fatalf("expected one queued task, got %d", len(f.tasks.added))
	}
	task := f.tasks.added[0]
	if task.GroupID != testChatID || task.ContentID != 20 || task.ThreadID != 10 ||
		task.ObjectType != "post" || task.ForumID != testForumID || task.OperatorID != moderatorID || task.ChatMessageID != 500 {
		t.Fatalf("unexpected task: %+v", task)
	}

	u, chat, user = replyUpdate(moderatorID, "cancel", 101)
	if _, err := f.handler.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(f.tasks.cancelled) != 1 || f.tasks.cancelled[0] != (forcedelete.Key{GroupID: testChatID, ContentID: 20}) {
		t.Fatalf("unexpected cancellations: %v", f.tasks.cancelled)
	}
}

func TestReactionRunsConfiguredAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := &api.Update{MessageReaction: &api.MessageReactionUpdated{
		Chat:        api.Chat{ID: testChatID},
		MessageID:   101,
		User:        &api.User{ID: moderatorID},
		NewReaction: []api.ReactionType{{Type: "emoji", Emoji: "💩"}},
	}}
	if _, err := f.handler.Handle(context.Background(), u, nil, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.client.bans) != 1 || f.client.bans[0] != 1 {
		t.Fatalf("expected default ban, got %v", f.client.bans)
	}

	u.MessageReaction.NewReaction = []api.ReactionType{{Type: "emoji", Emoji: "🔥"}}
	proceed, err := f.handler.Handle(context.Background(), u, nil, nil)
	if err != nil || !proceed {
		t.Fatalf("unrelated reaction: proceed=%v err=%v", proceed, err)
	}
	if len(f.client.deletes) != 0 || len(f.client.bans) != 1 {
		t.Fatalf("unrelated reaction triggered an action")
	}
}

func TestForceDeleteCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	u, chat, user := commandUpdate(moderatorID, "forcedelete", "comment 77 10")
	if _, err := f.handler.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("forcedelete: %v", err)
	}
	if len(f.tasks.added) != 1 {
		t.Fatalf("expected queued task, got %d", len(f.tasks.added))
	}
	if got := f.tasks.added[0]; got.ContentID != 77 || got.ThreadID != 10 || got.ObjectType != "comment" || got.ChatMessageID != 600 {
		t.Fatalf("unexpected task: %+v", got)
	}

	u, chat, user = commandUpdate(moderatorID, "forcedelete", "post 77")
	if _, err := f.handler.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("forcedelete usage: %v", err)
	}
	if last := f.replier.texts[len(f.replier.texts)-1]; last != "Usage: "+usageForceDelete {
		t.Fatalf("unexpected usage reply: %q", last)
	}

	u, chat, user = commandUpdate(moderatorID, "canceldelete", "12345")
	if _, err := f.handler.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("canceldelete: %v", err)
	}
	if last := f.replier.texts[len(f.replier.texts)-1]; last != "No force delete task for this content" {
		t.Fatalf("unexpected cancel reply: %q", last)
	}
}

func TestParseForceDelete(t *testing.T) {
	t.Parallel()

	if _, ok := parseForceDelete([]string{"thread", "5"}); !ok {
		t.Fatal("thread without thread id should parse")
	}
	for _, args := range [][]string{
		{"post", "5"},
		{"poll", "5", "1"},
		{"thread", "x"},
		{"thread"},
		{"post", "1", "2", "3"},
	} {
		if _, ok := parseForceDelete(args); ok {
			t.Fatalf("expected %v to be rejected", args)
		}
	}
}

func TestQueueIgnoresDuplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	task := &db.ForceDeleteTask{GroupID: testChatID, ContentID: 1}
	if err := f.handler.queue(context.Background(), task); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := f.handler.queue(context.Background(), task); err != nil || errors.Is(err, forcedelete.ErrAlreadyQueued) {
		t.Fatalf("duplicate should be swallowed, got %v", err)
	}
}
