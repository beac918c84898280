package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iamwavecut/forumwarden/internal/forum"
)

const (
	DefaultTTL = 48 * time.Hour

	keyPrefix        = "fw:corr:"
	messagePrefix    = keyPrefix + "msg:"
	appealPrefix     = keyPrefix + "appeal:"
	messageAppealKey = keyPrefix + "msg-appeal:"
	ledgerPrefix     = "fw:ledger:"
)

// MessageRef identifies a bot message in a moderator chat.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

func (r MessageRef) String() string {
	return strconv.FormatInt(r.ChatID, 10) + ":" + strconv.Itoa(r.MessageID)
}

func parseRef(s string) (MessageRef, error) {
	chat, msg, ok := strings.Cut(s, ":")
	if !ok {
		return MessageRef{}, fmt.Errorf("malformed message ref %q", s)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return MessageRef{}, fmt.Errorf("malformed chat id in %q: %w", s, err)
	}
	msgID, err := strconv.Atoi(msg)
	if err != nil {
		return MessageRef{}, fmt.Errorf("malformed message id in %q: %w", s, err)
	}
	return MessageRef{ChatID: chatID, MessageID: msgID}, nil
}

// Entry is what a moderator's later reply to a notification resolves to.
type Entry struct {
	GroupID    int64            `json:"group_id"`
	ForumID    int64            `json:"forum_id"`
	ObjectType forum.ObjectType `json:"object_type"`
	ObjectData json.RawMessage  `json:"object_data"`
}

func (e *Entry) Object() (forum.Object, error) {
	return forum.DecodeObject(e.ObjectType, e.ObjectData)
}

// Store keeps message correlations, the appeal reverse index and the
// per-payload outcome ledger in Redis under a shared TTL.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewStore(client redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func messageKey(ref MessageRef) string { return messagePrefix + ref.String() }
func appealKey(id string) string      { return appealPrefix + id }
func pairKey(ref MessageRef) string    { return messageAppealKey + ref.String() }
func ledgerKey(fp string) string      { return ledgerPrefix + fp }

func (s *Store) Put(ctx context.Context, ref MessageRef, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode correlation entry: %w", err)
	}
	if err := s.client.Set(ctx, messageKey(ref), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("put correlation %s: %w", ref, err)
	}
	return nil
}

// Get returns nil without an error when the reference is unknown or expired.
func (s *Store) Get(ctx context.Context, ref MessageRef) (*Entry, error) {
	raw, err := s.client.Get(ctx, messageKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get correlation %s: %w", ref, err)
	}
	entry := &Entry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, fmt.Errorf("decode correlation %s: %w", ref, err)
	}
	return entry, nil
}

// Delete drops the correlation for ref together with any appeal linked to it.
func (s *Store) Delete(ctx context.Context, ref MessageRef) error {
	appealID, err := s.client.Get(ctx, pairKey(ref)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get appeal link %s: %w", ref, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, messageKey(ref), pairKey(ref))
		if appealID != "" {
			pipe.Del(ctx, appealKey(appealID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete correlation %s: %w", ref, err)
	}
	return nil
}

// LinkAppeal records both directions of an appeal to message pairing. It
// reports false when the appeal was already linked, leaving the old pair.
func (s *Store) LinkAppeal(ctx context.Context, appealID string, ref MessageRef) (bool, error) {
	ok, err := s.client.SetNX(ctx, appealKey(appealID), ref.String(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("link appeal %s: %w", appealID, err)
	}
	if !ok {
		return false, nil
	}
	if err := s.client.Set(ctx, pairKey(ref), appealID, s.ttl).Err(); err != nil {
		return false, fmt.Errorf("link message %s to appeal %s: %w", ref, appealID, err)
	}
	return true, nil
}

func (s *Store) GetByAppeal(ctx context.Context, appealID string) (*MessageRef, error) {
	raw, err := s.client.Get(ctx, appealKey(appealID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get appeal %s: %w", appealID, err)
	}
	ref, err := parseRef(raw)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// DeleteByAppeal removes the appeal key, the message correlation and the
// reverse link in one transaction. It reports whether the appeal was known.
func (s *Store) DeleteByAppeal(ctx context.Context, appealID string) (bool, error) {
	ref, err := s.GetByAppeal(ctx, appealID)
	if err != nil {
		return false, err
	}
	if ref == nil {
		return false, nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, appealKey(appealID), messageKey(*ref), pairKey(*ref))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete appeal %s: %w", appealID, err)
	}
	return true, nil
}

// LoadOutcome decodes the saved outcome for fingerprint into dst and reports
// whether one existed.
func (s *Store) LoadOutcome(ctx context.Context, fingerprint string, dst any) (bool, error) {
	raw, err := s.client.Get(ctx, ledgerKey(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load outcome %s: %w", fingerprint, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode outcome %s: %w", fingerprint, err)
	}
	return true, nil
}

func (s *Store) SaveOutcome(ctx context.Context, fingerprint string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	if err := s.client.Set(ctx, ledgerKey(fingerprint), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save outcome %s: %w", fingerprint, err)
	}
	return nil
}
