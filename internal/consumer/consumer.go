package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/forumwarden/internal/broker"
	"github.com/iamwavecut/forumwarden/internal/executor"
	"github.com/iamwavecut/forumwarden/internal/infra"
	"github.com/iamwavecut/forumwarden/internal/observability"
)

const (
	DefaultBatch         = 16
	DefaultBlock         = 5 * time.Second
	DefaultRetryDelay    = 2 * time.Second
	DefaultMaxDeliveries = 5
)

type (
	stream interface {
		CreateGroup(ctx context.Context) error
		Consume(ctx context.Context, batch int64, block time.Duration) ([]broker.Entry, error)
		Ack(ctx context.Context, stream, id string) error
	}

	actionExecutor interface {
		Execute(ctx context.Context, p executor.Payload) error
	}

	appealRelay interface {
		Relay(ctx context.Context, a executor.Appeal) error
		Close(ctx context.Context, appealID string) error
	}
)

type Config struct {
	Batch      int64
	Block      time.Duration
	RetryDelay time.Duration
	// MaxDeliveries caps how often an entry failing with a retriable error
	// is handed out before it is acked and dropped.
	MaxDeliveries int64
}

// Consumer reads stream entries, dispatches them and acknowledges them.
// Entries failing for reasons that a retry may fix stay pending and are
// replayed on the next read, up to MaxDeliveries times.
type Consumer struct {
	stream   stream
	executor actionExecutor
	relay    appealRelay
	config   Config

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewConsumer(s stream, exec actionExecutor, relay appealRelay, cfg Config) *Consumer {
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultMaxDeliveries
	}
	return &Consumer{
		stream:   s,
		executor: exec,
		relay:    relay,
		config:   cfg,
	}
}

func (c *Consumer) getLogEntry() *log.Entry {
	return log.WithField("object", "Consumer")
}

func (c *Consumer) Start(ctx context.Context) error {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()
	if c.started {
		return nil
	}

	if err := c.stream.CreateGroup(ctx); err != nil {
		return fmt.Errorf("prepare consumer group: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.runCancel = cancel

	c.workersWg.Add(1)
	go func() {
		defer c.workersWg.Done()
		c.run(runCtx)
	}()

	c.started = true
	c.getLogEntry().Info("consumer started")
	return nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	c.runMutex.Lock()
	if !c.started {
		c.runMutex.Unlock()
		return nil
	}
	c.started = false
	cancel := c.runCancel
	c.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.workersWg.Wait()
	}()

	select {
	case <-done:
		c.getLogEntry().Info("consumer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) run(ctx context.Context) {
	for ctx.Err() == nil {
		entries, err := c.stream.Consume(ctx, c.config.Batch, c.config.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.getLogEntry().WithError(err).Warn("stream read failed")
			sleep(ctx, c.config.RetryDelay)
			continue
		}

		leftPending := false
		for _, entry := range entries {
			if ctx.Err() != nil {
				return
			}
			if !c.Handle(ctx, entry) {
				leftPending = true
			}
		}
		if leftPending {
			sleep(ctx, c.config.RetryDelay)
		}
	}
}

// Handle processes one entry and reports whether it was acknowledged.
func (c *Consumer) Handle(ctx context.Context, entry broker.Entry) bool {
	logEntry := c.getLogEntry().WithFields(log.Fields{
		"stream":     entry.Stream,
		"id":         entry.ID,
		"deliveries": entry.Deliveries,
	})

	err := infra.SafeCall("stream_entry", func() error {
		return c.dispatch(ctx, entry)
	})
	switch {
	case err == nil:
	case isPermanent(err) || errors.Is(err, infra.ErrPanic):
		logEntry.WithError(err).Warn("dropping entry")
		observability.RecordStreamEntry(entry.Stream, "rejected")
	case entry.Deliveries >= c.config.MaxDeliveries:
		logEntry.WithError(err).Error("dropping entry after repeated failures")
		observability.RecordStreamEntry(entry.Stream, "rejected")
	default:
		logEntry.WithError(err).Warn("entry left pending for replay")
		observability.RecordStreamEntry(entry.Stream, "pending")
		return false
	}

	if ackErr := c.stream.Ack(ctx, entry.Stream, entry.ID); ackErr != nil {
		logEntry.WithError(ackErr).Error("ack failed")
		observability.RecordStreamEntry(entry.Stream, "pending")
		return false
	}
	if err == nil {
		observability.RecordStreamEntry(entry.Stream, "acked")
	}
	return true
}

func (c *Consumer) dispatch(ctx context.Context, entry broker.Entry) error {
	ev, err := decodeEvent(entry.Payload)
	if err != nil {
		return err
	}

	if ev.matched != nil {
		return c.executor.Execute(ctx, *ev.matched)
	}

	switch ev.simple.ObjectType {
	case EventAppeal:
		appeal, err := decodeAppeal(ev.simple)
		if err != nil {
			return err
		}
		return c.relay.Relay(ctx, appeal)
	case EventAppealClosed:
		id := ev.simple.id()
		if id == "" {
			return fmt.Errorf("%w: appeal id %s", executor.ErrMalformedPayload, ev.simple.ObjectID)
		}
		return c.relay.Close(ctx, id)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedEvent, ev.simple.ObjectType)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
