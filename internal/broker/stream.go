package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pborman/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// PayloadField is the stream entry field carrying the serialized event.
const PayloadField = "data"

// DefaultClaimMinIdle is how long an entry may sit unacked with another
// consumer before this one takes it over.
const DefaultClaimMinIdle = time.Minute

type StreamOptions struct {
	Prefix   string
	Streams  []string
	Group    string
	Consumer string
	// ClaimMinIdle of zero selects DefaultClaimMinIdle, a negative value
	// disables claiming.
	ClaimMinIdle time.Duration
}

type Entry struct {
	Stream  string
	ID      string
	Payload []byte
	// Deliveries counts how many times the group handed this entry out,
	// including this one.
	Deliveries int64
}

// Stream is a consumer-group reader over one or more Redis streams.
type Stream struct {
	client       redis.UniversalClient
	prefix       string
	keys         []string
	group        string
	consumer     string
	claimMinIdle time.Duration
}

func NewStream(client redis.UniversalClient, opts StreamOptions) (*Stream, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if len(opts.Streams) == 0 {
		return nil, errors.New("no streams configured")
	}
	if strings.TrimSpace(opts.Group) == "" {
		return nil, errors.New("consumer group is empty")
	}

	keys := make([]string, 0, len(opts.Streams))
	for _, name := range opts.Streams {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		keys = append(keys, opts.Prefix+name)
	}
	if len(keys) == 0 {
		return nil, errors.New("no streams configured")
	}

	consumer := strings.TrimSpace(opts.Consumer)
	if consumer == "" {
		consumer = defaultConsumerName()
	}

	claimMinIdle := opts.ClaimMinIdle
	if claimMinIdle == 0 {
		claimMinIdle = DefaultClaimMinIdle
	}

	return &Stream{
		client:       client,
		prefix:       opts.Prefix,
		keys:         keys,
		group:        opts.Group,
		consumer:     consumer,
		claimMinIdle: claimMinIdle,
	}, nil
}

// defaultConsumerName is the hostname, so a restarted process picks up its
// own pending entries under the same name.
func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "forumwarden-" + uuid.New()
	}
	return host
}

// Key returns the prefixed key of a configured stream, or "" if name is unknown.
func (s *Stream) Key(name string) string {
	for _, key := range s.keys {
		if key == s.prefix+name {
			return key
		}
	}
	return ""
}

// CreateGroup makes sure every stream and the consumer group exist.
func (s *Stream) CreateGroup(ctx context.Context) error {
	for _, key := range s.keys {
		err := s.client.XGroupCreateMkStream(ctx, key, s.group, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", s.group, key, err)
		}
	}
	log.WithField("object", "Stream").WithFields(log.Fields{
		"group":    s.group,
		"consumer": s.consumer,
		"streams":  s.keys,
	}).Debug("consumer group ready")
	return nil
}

// Consume returns up to batch entries per stream. Entries left idle by other
// consumers are claimed first. Entries delivered to this consumer earlier but
// never acked are replayed alongside new ones, so a failing entry cannot hold
// back the rest of the stream. Only an empty pending list lets the read for
// new entries block, and a block timeout yields an empty result.
func (s *Stream) Consume(ctx context.Context, batch int64, block time.Duration) ([]Entry, error) {
	if err := s.claimIdle(ctx, batch); err != nil {
		return nil, err
	}

	pending, err := s.read(ctx, "0", batch, -1)
	if err != nil {
		return nil, err
	}
	if err := s.countDeliveries(ctx, pending, batch); err != nil {
		return nil, err
	}

	switch {
	case len(pending) > 0:
		block = -1
	case block <= 0:
		block = time.Millisecond
	}
	fresh, err := s.read(ctx, ">", batch, block)
	if err != nil {
		return nil, err
	}
	for i := range fresh {
		fresh[i].Deliveries = 1
	}
	return append(pending, fresh...), nil
}

// claimIdle moves entries that stayed unacked with any consumer for longer
// than claimMinIdle into this consumer's pending list.
func (s *Stream) claimIdle(ctx context.Context, batch int64) error {
	if s.claimMinIdle < 0 {
		return nil
	}
	for _, key := range s.keys {
		ids, _, err := s.client.XAutoClaimJustID(ctx, &redis.XAutoClaimArgs{
			Stream:   key,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.claimMinIdle,
			Start:    "0-0",
			Count:    batch,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("claim idle entries on %s: %w", key, err)
		}
		if len(ids) > 0 {
			log.WithField("object", "Stream").WithFields(log.Fields{
				"stream":   key,
				"consumer": s.consumer,
				"claimed":  len(ids),
			}).Info("claimed idle entries")
		}
	}
	return nil
}

func (s *Stream) countDeliveries(ctx context.Context, entries []Entry, batch int64) error {
	if len(entries) == 0 {
		return nil
	}
	counts := map[string]int64{}
	for _, key := range s.keys {
		res, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream:   key,
			Group:    s.group,
			Start:    "-",
			End:      "+",
			Count:    batch,
			Consumer: s.consumer,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("pending of %s: %w", key, err)
		}
		for _, p := range res {
			counts[key+"/"+p.ID] = p.RetryCount
		}
	}
	for i := range entries {
		entries[i].Deliveries = counts[entries[i].Stream+"/"+entries[i].ID]
	}
	return nil
}

func (s *Stream) read(ctx context.Context, id string, batch int64, block time.Duration) ([]Entry, error) {
	streams := make([]string, 0, len(s.keys)*2)
	streams = append(streams, s.keys...)
	for range s.keys {
		streams = append(streams, id)
	}

	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  streams,
		Count:    batch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group %s: %w", s.group, err)
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			entries = append(entries, Entry{
				Stream:  stream.Stream,
				ID:      msg.ID,
				Payload: payloadOf(msg.Values),
			})
		}
	}
	return entries, nil
}

func payloadOf(values map[string]any) []byte {
	switch v := values[PayloadField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	}
	return nil
}

func (s *Stream) Ack(ctx context.Context, stream, id string) error {
	if err := s.client.XAck(ctx, stream, s.group, id).Err(); err != nil {
		return fmt.Errorf("ack %s/%s: %w", stream, id, err)
	}
	return nil
}

// Publish appends payload to stream, which is given without the key prefix.
func (s *Stream) Publish(ctx context.Context, stream string, payload []byte) (string, error) {
	key := s.Key(stream)
	if key == "" {
		return "", fmt.Errorf("unknown stream %q", stream)
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{PayloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", key, err)
	}
	return id, nil
}
