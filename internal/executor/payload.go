package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/iamwavecut/forumwarden/internal/forum"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Payload is a "rules matched this content" event. The order of
// MatchedRuleIDs is the order actions are evaluated in.
type Payload struct {
	ForumID        int64            `json:"forum_id"`
	MatchedRuleIDs []int64          `json:"matched_rule_ids"`
	ObjectType     forum.ObjectType `json:"object_type"`
	ObjectData     json.RawMessage  `json:"object_data"`
	Timestamp      float64          `json:"timestamp"`
}

func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.ForumID == 0 || len(p.ObjectData) == 0 || p.ObjectType == "" {
		return Payload{}, fmt.Errorf("%w: forum_id, object_type and object_data are required", ErrMalformedPayload)
	}
	return p, nil
}

// ObservedAt converts the fractional unix timestamp.
func (p Payload) ObservedAt() time.Time {
	sec, frac := math.Modf(p.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Fingerprint identifies one event across redeliveries.
func (p Payload) Fingerprint() string {
	ids := make([]string, len(p.MatchedRuleIDs))
	for i, id := range p.MatchedRuleIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|", p.ForumID, p.ObjectType, strings.Join(ids, ","), strconv.FormatFloat(p.Timestamp, 'f', -1, 64))
	h.Write(p.ObjectData)
	return hex.EncodeToString(h.Sum(nil))
}

// Outcome is the per-payload record of what has been done so far. Attempt
// flags are set before the remote call, so a payload never triggers a second
// delete or ban, whatever happened to the first one.
type Outcome struct {
	Deleted  bool `json:"deleted"`
	Banned   bool `json:"banned"`
	Notified bool `json:"notified"`

	DeleteAttempted bool   `json:"delete_attempted"`
	BanAttempted    bool   `json:"ban_attempted"`
	DeleteError     string `json:"delete_error,omitempty"`
	BanError        string `json:"ban_error,omitempty"`
	BanDays         int    `json:"ban_days,omitempty"`
}
