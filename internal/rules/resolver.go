package rules

import (
	"context"
	"fmt"

	"github.com/iamwavecut/forumwarden/internal/db"
)

type ruleStore interface {
	GetRule(ctx context.Context, id int64) (*db.Rule, error)
}

// Resolver reads the current state of a rule. Rules are edited out of band,
// so nothing is cached between calls.
type Resolver struct {
	store ruleStore
}

func NewResolver(store ruleStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns nil without an error when the rule no longer exists.
func (r *Resolver) Resolve(ctx context.Context, id int64) (*db.Rule, error) {
	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve rule %d: %w", id, err)
	}
	return rule, nil
}
