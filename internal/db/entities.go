package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type (
	// Group is a moderation group: a telegram chat acting on behalf of one forum.
	Group struct {
		ID          int64  `db:"id"`
		ForumID     int64  `db:"forum_id"`
		ForumName   string `db:"forum_name"`
		Credential  string `db:"credential"`
		BotIdentity string `db:"bot_identity"`
		Language    string `db:"language"`
	}

	Rule struct {
		ID       int64       `db:"id"`
		GroupID  int64       `db:"group_id"`
		Name     string      `db:"name"`
		Priority int         `db:"priority"`
		Actions  RuleActions `db:"actions"`
	}

	RuleActions struct {
		Delete DeleteAction `json:"delete" yaml:"delete"`
		Ban    BanAction    `json:"ban" yaml:"ban"`
		Notify NotifyAction `json:"notify" yaml:"notify"`
	}

	DeleteAction struct {
		Enabled bool `json:"enabled" yaml:"enabled"`
	}

	BanAction struct {
		Enabled bool `json:"enabled" yaml:"enabled"`
		Days    int  `json:"days" yaml:"days"`
	}

	NotifyAction struct {
		Enabled  bool   `json:"enabled" yaml:"enabled"`
		Template string `json:"template" yaml:"template"`
	}

	// ForceDeleteTask is the durable mirror of a persistent delete retry.
	ForceDeleteTask struct {
		GroupID       int64     `db:"group_id"`
		ContentID     int64     `db:"content_id"`
		ObjectType    string    `db:"object_type"`
		ThreadID      int64     `db:"thread_id"`
		BotIdentity   string    `db:"bot_identity"`
		ChatMessageID int       `db:"chat_message_id"`
		ForumID       int64     `db:"forum_id"`
		OperatorID    int64     `db:"operator_id"`
		ExpireAt      time.Time `db:"expire_at"`
		Attempts      int       `db:"attempts"`
	}
)

const DefaultBanDays = 1

func (a RuleActions) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *RuleActions) Scan(v interface{}) error {
	var err error
	switch data := v.(type) {
	case nil:
		*a = RuleActions{}
		return nil
	case string:
		err = json.Unmarshal([]byte(data), a)
	case []byte:
		err = json.Unmarshal(data, a)
	default:
		err = fmt.Errorf("cannot scan type %T into RuleActions", v)
	}
	if err != nil {
		return fmt.Errorf("%w: rule actions: %v", ErrCorruptRow, err)
	}
	return nil
}

// BanDays returns the configured ban duration, or fallback when days is unset.
func (a BanAction) BanDays(fallback int) int {
	if a.Days >= 1 {
		return a.Days
	}
	if fallback >= 1 {
		return fallback
	}
	return DefaultBanDays
}

func (t *ForceDeleteTask) Expired(now time.Time) bool {
	return now.After(t.ExpireAt)
}
