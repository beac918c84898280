package forcedelete

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/forumwarden/internal/db"
)

var ErrAlreadyQueued = errors.New("force delete already queued")

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFatal     State = "fatal"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

type Key struct {
	GroupID   int64
	ContentID int64
}

func KeyOf(t *db.ForceDeleteTask) Key {
	return Key{GroupID: t.GroupID, ContentID: t.ContentID}
}

// Task is a registry entry. Callers only ever see copies.
type Task struct {
	db.ForceDeleteTask
	State State
}

func (t *Task) Key() Key {
	return KeyOf(&t.ForceDeleteTask)
}

type taskStore interface {
	ListForceDeleteTasks(ctx context.Context) ([]*db.ForceDeleteTask, error)
	UpsertForceDeleteTask(ctx context.Context, task *db.ForceDeleteTask) error
	DeleteForceDeleteTask(ctx context.Context, groupID, contentID int64) error
}

// Registry holds the live force delete tasks and mirrors every change to the
// durable store while holding its lock. The in-memory map is authoritative:
// a failed durable write is logged and the task stays live.
type Registry struct {
	store taskStore

	mu    sync.Mutex
	tasks map[Key]*Task
}

func NewRegistry(store taskStore) *Registry {
	return &Registry{
		store: store,
		tasks: map[Key]*Task{},
	}
}

func (r *Registry) Add(ctx context.Context, t *db.ForceDeleteTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := KeyOf(t)
	if _, ok := r.tasks[key]; ok {
		return ErrAlreadyQueued
	}
	r.tasks[key] = &Task{ForceDeleteTask: *t, State: StatePending}
	if err := r.store.UpsertForceDeleteTask(ctx, t); err != nil {
		log.WithField("object", "ForceDeleteRegistry").WithError(err).WithFields(log.Fields{
			"group_id":   t.GroupID,
			"content_id": t.ContentID,
		}).Error("force delete task not persisted, it will not survive a restart")
	}
	return nil
}

// Remove drops key from memory and storage. The durable record is deleted
// even when the key is not live, which clears orphans left by a crash.
func (r *Registry) Remove(ctx context.Context, key Key) (*Task, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[key]
	delete(r.tasks, key)
	if err := r.store.DeleteForceDeleteTask(ctx, key.GroupID, key.ContentID); err != nil {
		if ok {
			return copyTask(t), true, fmt.Errorf("delete force delete task: %w", err)
		}
		return nil, false, fmt.Errorf("delete force delete task: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return copyTask(t), true, nil
}

// Touch records a failed attempt. It is a no-op for keys removed meanwhile.
func (r *Registry) Touch(ctx context.Context, key Key, attempts int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[key]
	if !ok {
		return false, nil
	}
	t.Attempts = attempts
	t.State = StateRunning
	if err := r.store.UpsertForceDeleteTask(ctx, &t.ForceDeleteTask); err != nil {
		return true, fmt.Errorf("persist attempts: %w", err)
	}
	return true, nil
}

func (r *Registry) Get(key Key) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[key]
	if !ok {
		return nil, false
	}
	return copyTask(t), true
}

// Snapshot returns copies of every live task, soonest expiry first.
func (r *Registry) Snapshot() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpireAt.Equal(out[j].ExpireAt) {
			return out[i].ExpireAt.Before(out[j].ExpireAt)
		}
		return out[i].ContentID < out[j].ContentID
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Restore loads durable tasks. Tasks that expired while the process was down
// are deleted from storage and returned as purged.
func (r *Registry) Restore(ctx context.Context, now time.Time) (resumed, purged []*db.ForceDeleteTask, err error) {
	stored, err := r.store.ListForceDeleteTasks(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list force delete tasks: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range stored {
		if t.Expired(now) {
			if err := r.store.DeleteForceDeleteTask(ctx, t.GroupID, t.ContentID); err != nil {
				return resumed, purged, fmt.Errorf("purge expired task: %w", err)
			}
			purged = append(purged, t)
			continue
		}
		r.tasks[KeyOf(t)] = &Task{ForceDeleteTask: *t, State: StateRunning}
		resumed = append(resumed, t)
	}
	return resumed, purged, nil
}

// Flush writes every live task to storage.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flushErr error
	for _, t := range r.tasks {
		if err := r.store.UpsertForceDeleteTask(ctx, &t.ForceDeleteTask); err != nil {
			flushErr = errors.Join(flushErr, err)
		}
	}
	return flushErr
}

func copyTask(t *Task) *Task {
	c := *t
	return &c
}
