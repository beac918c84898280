package forcedelete

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/iamwavecut/forumwarden/internal/db"
	"github.com/iamwavecut/forumwarden/internal/forum"
	"github.com/iamwavecut/forumwarden/internal/i18n"
	"github.com/iamwavecut/forumwarden/internal/observability"
)

const (
	DefaultMaxDuration = 60 * time.Minute
	DefaultRPS         = 1.0
	DefaultTick        = time.Second
)

type (
	clientPool interface {
		Get(ctx context.Context, groupID int64) (forum.Client, error)
	}

	groupStore interface {
		GetGroup(ctx context.Context, id int64) (*db.Group, error)
	}

	replier interface {
		Reply(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	}
)

type Config struct {
	MaxDuration   time.Duration
	RPS           float64
	Tick          time.Duration
	Retriable     []int
	Fatal         []int
	NotifyExpired bool
}

// Worker keeps retrying registered deletes until each one succeeds, fails
// fatally, is cancelled or runs out of time. Every task ends with exactly one
// reply to the moderator who queued it.
type Worker struct {
	registry *Registry
	pool     clientPool
	groups   groupStore
	replier  replier
	config   Config
	policy   forum.Policy
	limiter  *rate.Limiter
	now      func() time.Time

	runMutex  sync.Mutex
	started   bool
	looping   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewWorker(registry *Registry, pool clientPool, groups groupStore, replier replier, cfg Config) *Worker {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRPS
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if len(cfg.Retriable) == 0 {
		cfg.Retriable = []int{forum.CodeTooFrequent, forum.CodeServerBusy, forum.CodeSystemError}
	}
	if len(cfg.Fatal) == 0 {
		cfg.Fatal = []int{forum.CodePermissionDenied, forum.CodeContentGone, forum.CodeNotLoggedIn}
	}
	return &Worker{
		registry: registry,
		pool:     pool,
		groups:   groups,
		replier:  replier,
		config:   cfg,
		policy:   forum.ForceDeletePolicy(cfg.Retriable, cfg.Fatal),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		now:      time.Now,
	}
}

func (w *Worker) getLogEntry() *log.Entry {
	return log.WithField("object", "ForceDeleteWorker")
}

// Start resumes durable tasks. Tasks that expired while the process was down
// are dropped, with a timeout reply only when NotifyExpired is set.
func (w *Worker) Start(ctx context.Context) error {
	w.runMutex.Lock()
	if w.started {
		w.runMutex.Unlock()
		return nil
	}
	w.runCtx, w.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	w.started = true
	w.runMutex.Unlock()

	resumed, purged, err := w.registry.Restore(ctx, w.now())
	if err != nil {
		return err
	}
	w.getLogEntry().WithFields(log.Fields{
		"resumed": len(resumed),
		"purged":  len(purged),
	}).Info("force delete tasks restored")

	if w.config.NotifyExpired {
		for _, t := range purged {
			w.reply(ctx, t, StateTimedOut, "")
		}
	}
	observability.SetForceDeleteQueued(w.registry.Len())
	w.ensureLoop()
	return nil
}

// Stop waits for the loop to exit and writes the remaining tasks to storage.
func (w *Worker) Stop(ctx context.Context) error {
	w.runMutex.Lock()
	if !w.started {
		w.runMutex.Unlock()
		return nil
	}
	w.started = false
	cancel := w.runCancel
	w.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.workersWg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := w.registry.Flush(ctx); err != nil {
		return fmt.Errorf("flush force delete tasks: %w", err)
	}
	return nil
}

// Add queues a task. ExpireAt and Attempts are set here.
func (w *Worker) Add(ctx context.Context, t *db.ForceDeleteTask) error {
	t.ExpireAt = w.now().Add(w.config.MaxDuration)
	t.Attempts = 0

	if err := w.registry.Add(ctx, t); err != nil {
		if errors.Is(err, ErrAlreadyQueued) {
			w.send(ctx, t, i18n.Get("Force delete already queued for this content", w.language(ctx, t.GroupID)))
		}
		return err
	}
	observability.SetForceDeleteQueued(w.registry.Len())
	w.getLogEntry().WithFields(log.Fields{
		"group_id":   t.GroupID,
		"content_id": t.ContentID,
		"operator":   t.OperatorID,
	}).Info("force delete queued")

	lang := w.language(ctx, t.GroupID)
	w.send(ctx, t, fmt.Sprintf(i18n.Get("Force delete queued, will retry for %d minutes", lang), int(w.config.MaxDuration/time.Minute)))
	w.ensureLoop()
	return nil
}

// Cancel stops a live task and reports true. For an unknown key any durable
// leftover is removed and false is returned.
func (w *Worker) Cancel(ctx context.Context, key Key) (bool, error) {
	t, ok, err := w.registry.Remove(ctx, key)
	if !ok {
		return false, err
	}
	if err != nil {
		w.getLogEntry().WithError(err).Warn("cancelled task not removed from storage")
	}
	w.finished(ctx, &t.ForceDeleteTask, StateCancelled, "")
	return true, nil
}

func (w *Worker) ensureLoop() {
	w.runMutex.Lock()
	defer w.runMutex.Unlock()
	if !w.started || w.looping || w.registry.Len() == 0 {
		return
	}
	w.looping = true
	w.workersWg.Add(1)
	go func(ctx context.Context) {
		defer w.workersWg.Done()
		w.loop(ctx)
	}(w.runCtx)
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.config.Tick)
	defer ticker.Stop()

	for {
		w.tick(ctx)

		w.runMutex.Lock()
		if ctx.Err() != nil || w.registry.Len() == 0 {
			w.looping = false
			w.runMutex.Unlock()
			return
		}
		w.runMutex.Unlock()

		select {
		case <-ctx.Done():
			w.runMutex.Lock()
			w.looping = false
			w.runMutex.Unlock()
			return
		case <-ticker.C:
		}
	}
}

// tick times out tasks that expired before it began, then makes one rate
// limited attempt per remaining task. Tasks that expire while the attempts
// run are swept afterwards, so a success in this tick wins over expiry.
func (w *Worker) tick(ctx context.Context) {
	w.sweep(ctx, w.now())

	for _, t := range w.registry.Snapshot() {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		if _, ok := w.registry.Get(t.Key()); !ok {
			continue
		}
		w.attempt(ctx, t)
	}
	if ctx.Err() != nil {
		return
	}

	w.sweep(ctx, w.now())
	observability.SetForceDeleteQueued(w.registry.Len())
}

func (w *Worker) sweep(ctx context.Context, now time.Time) {
	for _, t := range w.registry.Snapshot() {
		if !t.Expired(now) {
			continue
		}
		if removed, ok, err := w.registry.Remove(ctx, t.Key()); ok {
			if err != nil {
				w.getLogEntry().WithError(err).Warn("expired task not removed from storage")
			}
			w.finished(ctx, &removed.ForceDeleteTask, StateTimedOut, "")
		}
	}
}

func (w *Worker) attempt(ctx context.Context, t *Task) {
	ctx, span := otel.Tracer("forcedelete").Start(ctx, "force-delete-attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("group_id", t.GroupID),
			attribute.Int64("content_id", t.ContentID),
			attribute.Int("attempt", t.Attempts+1),
		),
	)
	defer span.End()

	observability.RecordForceDeleteAttempt()
	err := w.deleteOnce(ctx, t)
	if ctx.Err() != nil {
		return
	}

	key := t.Key()
	entry := w.getLogEntry().WithFields(log.Fields{
		"group_id":   t.GroupID,
		"content_id": t.ContentID,
		"attempt":    t.Attempts + 1,
	})

	switch {
	case err == nil:
		removed, ok, rmErr := w.registry.Remove(ctx, key)
		if !ok {
			entry.Debug("task removed during attempt, discarding success")
			return
		}
		if rmErr != nil {
			entry.WithError(rmErr).Warn("finished task not removed from storage")
		}
		removed.Attempts = t.Attempts + 1
		w.finished(ctx, &removed.ForceDeleteTask, StateSucceeded, "")
	case forum.ClassOf(err) == forum.ClassFatal:
		span.RecordError(err)
		removed, ok, rmErr := w.registry.Remove(ctx, key)
		if !ok {
			return
		}
		if rmErr != nil {
			entry.WithError(rmErr).Warn("finished task not removed from storage")
		}
		removed.Attempts = t.Attempts + 1
		w.finished(ctx, &removed.ForceDeleteTask, StateFatal, forum.Reason(err))
	default:
		span.RecordError(err)
		if _, err := w.registry.Touch(ctx, key, t.Attempts+1); err != nil {
			entry.WithError(err).Warn("attempt count not persisted")
		}
		entry.WithError(err).Debug("delete attempt failed, will retry")
	}
}

// deleteOnce makes a single delete call. Failures that no retry can fix are
// reported as fatal regardless of the policy.
func (w *Worker) deleteOnce(ctx context.Context, t *Task) error {
	objectType, err := forum.ParseObjectType(t.ObjectType)
	if err != nil {
		return &forum.ClassifiedError{Class: forum.ClassFatal, Attempts: 1, Err: err}
	}
	c, err := w.pool.Get(ctx, t.GroupID)
	if err != nil {
		if errors.Is(err, forum.ErrGroupNotFound) {
			return &forum.ClassifiedError{Class: forum.ClassFatal, Attempts: 1, Err: err}
		}
		return err
	}
	_, err = forum.CallWithRetry(ctx, w.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, forum.DeleteByRef(ctx, c, t.ForumID, objectType, t.ThreadID, t.ContentID)
	})
	return err
}

func (w *Worker) finished(ctx context.Context, t *db.ForceDeleteTask, state State, reason string) {
	observability.RecordForceDeleteFinished(string(state))
	observability.SetForceDeleteQueued(w.registry.Len())
	w.getLogEntry().WithFields(log.Fields{
		"group_id":   t.GroupID,
		"content_id": t.ContentID,
		"state":      state,
		"attempts":   t.Attempts,
		"reason":     reason,
	}).Info("force delete finished")
	w.reply(ctx, t, state, reason)
}

func (w *Worker) reply(ctx context.Context, t *db.ForceDeleteTask, state State, reason string) {
	lang := w.language(ctx, t.GroupID)
	var text string
	switch state {
	case StateSucceeded:
		text = fmt.Sprintf(i18n.Get("Force delete succeeded after %d attempts", lang), t.Attempts)
	case StateFatal:
		text = fmt.Sprintf(i18n.Get("Force delete stopped: %s", lang), reason)
	case StateTimedOut:
		text = fmt.Sprintf(i18n.Get("Force delete stopped: %s", lang), i18n.Get("Could not delete within the time limit", lang))
	case StateCancelled:
		text = i18n.Get("Force delete cancelled", lang)
	default:
		return
	}
	w.send(ctx, t, text)
}

func (w *Worker) send(ctx context.Context, t *db.ForceDeleteTask, text string) {
	// Terminal replies must go out even while the loop is being cancelled.
	ctx = context.WithoutCancel(ctx)
	if _, err := w.replier.Reply(ctx, t.GroupID, t.ChatMessageID, text); err != nil {
		w.getLogEntry().WithError(err).WithField("group_id", t.GroupID).Warn("reply not delivered")
	}
}

func (w *Worker) language(ctx context.Context, groupID int64) string {
	group, err := w.groups.GetGroup(context.WithoutCancel(ctx), groupID)
	if err != nil || group == nil {
		return ""
	}
	return group.Language
}

// Registry exposes the live tasks for lookups by the escalation handler.
func (w *Worker) Registry() *Registry {
	return w.registry
}
