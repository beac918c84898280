package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/iamwavecut/forumwarden/internal/db"
)

type memoryStore struct {
	groups map[int64]*db.Group
	rules  map[int64]*db.Rule
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{groups: map[int64]*db.Group{}, rules: map[int64]*db.Rule{}}
}

func (s *memoryStore) GetRule(_ context.Context, id int64) (*db.Rule, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rules[id], nil
}

func (s *memoryStore) UpsertGroup(_ context.Context, g *db.Group) error {
	s.groups[g.ID] = g
	return nil
}

func (s *memoryStore) UpsertRule(_ context.Context, r *db.Rule) error {
	if _, ok := s.groups[r.GroupID]; !ok {
		return errors.New("unknown group")
	}
	s.rules[r.ID] = r
	return nil
}

func TestResolveReadsCurrentState(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	resolver := NewResolver(store)
	ctx := context.Background()

	rule, err := resolver.Resolve(ctx, 7)
	if err != nil || rule != nil {
		t.Fatalf("expected absent rule, got %#v err=%v", rule, err)
	}

	store.rules[7] = &db.Rule{ID: 7, Actions: db.RuleActions{Delete: db.DeleteAction{Enabled: true}}}
	rule, err = resolver.Resolve(ctx, 7)
	if err != nil || rule == nil || !rule.Actions.Delete.Enabled {
		t.Fatalf("expected fresh rule, got %#v err=%v", rule, err)
	}

	store.rules[7].Actions.Delete.Enabled = false
	rule, _ = resolver.Resolve(ctx, 7)
	if rule.Actions.Delete.Enabled {
		t.Fatalf("expected resolver to see the edit")
	}

	store.err = errors.New("db down")
	if _, err := resolver.Resolve(ctx, 7); err == nil {
		t.Fatalf("expected store error to surface")
	}
}

func TestLoadAndApplySeed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seed.yml")
	content := `
groups:
  - id: -1001
    forum_id: 42
    forum_name: cats
    credential: secret
    bot_identity: warden
    language: zh
rules:
  - id: 7
    group_id: -1001
    name: spam links
    priority: 10
    actions:
      delete:
        enabled: true
      ban:
        enabled: true
        days: 3
      notify:
        enabled: true
        template: default
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	store := newMemoryStore()
	if err := ApplySeed(context.Background(), store, seed); err != nil {
		t.Fatalf("apply seed: %v", err)
	}

	if g := store.groups[-1001]; g == nil || g.ForumID != 42 || g.Language != "zh" {
		t.Fatalf("unexpected group: %#v", g)
	}
	r := store.rules[7]
	if r == nil || !r.Actions.Delete.Enabled || r.Actions.Ban.Days != 3 || r.Actions.Notify.Template != "default" {
		t.Fatalf("unexpected rule: %#v", r)
	}
}

func TestLoadSeedRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seed.yml")
	if err := os.WriteFile(path, []byte("groups: []\nrulez: []\n"), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := LoadSeed(path); err == nil {
		t.Fatalf("expected strict parse error")
	}
}
