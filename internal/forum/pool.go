package forum

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iamwavecut/forumwarden/internal/db"
)

var ErrGroupNotFound = errors.New("moderation group not found")

type Factory func(group *db.Group) (Client, error)

type groupStore interface {
	GetGroup(ctx context.Context, id int64) (*db.Group, error)
}

// Pool lazily creates one Client per moderation group.
type Pool struct {
	store   groupStore
	factory Factory

	mu      sync.Mutex
	clients map[int64]Client
}

func NewPool(store groupStore, factory Factory) *Pool {
	return &Pool{
		store:   store,
		factory: factory,
		clients: map[int64]Client{},
	}
}

func (p *Pool) Get(ctx context.Context, groupID int64) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[groupID]; ok {
		return c, nil
	}

	group, err := p.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group %d: %w", groupID, err)
	}
	if group == nil {
		return nil, fmt.Errorf("%w: %d", ErrGroupNotFound, groupID)
	}
	c, err := p.factory(group)
	if err != nil {
		return nil, fmt.Errorf("create client for group %d: %w", groupID, err)
	}
	p.clients[groupID] = c
	return c, nil
}
