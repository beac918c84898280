package rules

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/forumwarden/internal/db"
)

type (
	Seed struct {
		Groups []SeedGroup `yaml:"groups"`
		Rules  []SeedRule  `yaml:"rules"`
	}

	SeedGroup struct {
		ID          int64  `yaml:"id"`
		ForumID     int64  `yaml:"forum_id"`
		ForumName   string `yaml:"forum_name"`
		Credential  string `yaml:"credential"`
		BotIdentity string `yaml:"bot_identity"`
		Language    string `yaml:"language"`
	}

	SeedRule struct {
		ID       int64          `yaml:"id"`
		GroupID  int64          `yaml:"group_id"`
		Name     string         `yaml:"name"`
		Priority int            `yaml:"priority"`
		Actions  db.RuleActions `yaml:"actions"`
	}
)

type seedStore interface {
	UpsertGroup(ctx context.Context, group *db.Group) error
	UpsertRule(ctx context.Context, rule *db.Rule) error
}

func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	seed := &Seed{}
	if err := yaml.UnmarshalStrict(raw, seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for _, r := range seed.Rules {
		if r.ID == 0 || r.GroupID == 0 {
			return nil, fmt.Errorf("seed rule %q needs id and group_id", r.Name)
		}
	}
	return seed, nil
}

// ApplySeed upserts groups before rules so a rule never references a missing group.
func ApplySeed(ctx context.Context, store seedStore, seed *Seed) error {
	entry := log.WithField("object", "Seed")
	for _, g := range seed.Groups {
		group := &db.Group{
			ID:          g.ID,
			ForumID:     g.ForumID,
			ForumName:   g.ForumName,
			Credential:  g.Credential,
			BotIdentity: g.BotIdentity,
			Language:    g.Language,
		}
		if err := store.UpsertGroup(ctx, group); err != nil {
			return fmt.Errorf("seed group %d: %w", g.ID, err)
		}
	}
	for _, r := range seed.Rules {
		rule := &db.Rule{
			ID:       r.ID,
			GroupID:  r.GroupID,
			Name:     r.Name,
			Priority: r.Priority,
			Actions:  r.Actions,
		}
		if err := store.UpsertRule(ctx, rule); err != nil {
			return fmt.Errorf("seed rule %d: %w", r.ID, err)
		}
	}
	entry.WithFields(log.Fields{
		"groups": len(seed.Groups),
		"rules":  len(seed.Rules),
	}).Info("seed applied")
	return nil
}
