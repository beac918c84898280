package db

import (
	"context"
	"errors"
)

// ErrCorruptRow marks a stored row that can never be decoded as is.
var ErrCorruptRow = errors.New("corrupt row")

type Client interface {
	Close() error

	GetGroup(ctx context.Context, id int64) (*Group, error)
	GetGroupByForum(ctx context.Context, forumID int64) (*Group, error)
	UpsertGroup(ctx context.Context, group *Group) error

	GetRule(ctx context.Context, id int64) (*Rule, error)
	UpsertRule(ctx context.Context, rule *Rule) error

	ListForceDeleteTasks(ctx context.Context) ([]*ForceDeleteTask, error)
	UpsertForceDeleteTask(ctx context.Context, task *ForceDeleteTask) error
	DeleteForceDeleteTask(ctx context.Context, groupID, contentID int64) error
}
