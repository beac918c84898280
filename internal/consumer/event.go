package consumer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iamwavecut/forumwarden/internal/executor"
)

const (
	EventAppeal       = "appeal"
	EventAppealClosed = "appeal_closed"
)

var ErrUnsupportedEvent = errors.New("unsupported event type")

// simpleEvent is the generic upstream envelope used for everything that is
// not a matched rule payload.
type simpleEvent struct {
	ObjectType string          `json:"object_type"`
	ObjectID   json.RawMessage `json:"object_id"`
	Payload    json.RawMessage `json:"payload"`
}

func (e simpleEvent) id() string {
	var s string
	if err := json.Unmarshal(e.ObjectID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(e.ObjectID, &n); err == nil {
		return n.String()
	}
	return ""
}

type event struct {
	matched *executor.Payload
	simple  *simpleEvent
}

func decodeEvent(raw []byte) (event, error) {
	var head struct {
		MatchedRuleIDs json.RawMessage `json:"matched_rule_ids"`
		ObjectID       json.RawMessage `json:"object_id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return event{}, fmt.Errorf("%w: %v", executor.ErrMalformedPayload, err)
	}

	switch {
	case len(head.MatchedRuleIDs) > 0:
		p, err := executor.DecodePayload(raw)
		if err != nil {
			return event{}, err
		}
		return event{matched: &p}, nil
	case len(head.ObjectID) > 0:
		e := &simpleEvent{}
		if err := json.Unmarshal(raw, e); err != nil {
			return event{}, fmt.Errorf("%w: %v", executor.ErrMalformedPayload, err)
		}
		return event{simple: e}, nil
	default:
		return event{}, fmt.Errorf("%w: neither matched_rule_ids nor object_id present", executor.ErrMalformedPayload)
	}
}

func decodeAppeal(e *simpleEvent) (executor.Appeal, error) {
	var a executor.Appeal
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &a); err != nil {
			return executor.Appeal{}, fmt.Errorf("%w: appeal payload: %v", executor.ErrMalformedPayload, err)
		}
	}
	if a.AppealID == "" {
		a.AppealID = e.id()
	}
	return a, nil
}

func isPermanent(err error) bool {
	return executor.IsPermanent(err) || errors.Is(err, ErrUnsupportedEvent)
}
