package executor

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/forumwarden/internal/correlation"
	"github.com/iamwavecut/forumwarden/internal/db"
	"github.com/iamwavecut/forumwarden/internal/forum"
	"github.com/iamwavecut/forumwarden/internal/notify"
)

// Appeal is a user's request to review a moderation decision.
type Appeal struct {
	GroupID    int64            `json:"group_id"`
	ForumID    int64            `json:"forum_id"`
	AppealID   string           `json:"appeal_id"`
	UserName   string           `json:"user_name"`
	Reason     string           `json:"reason"`
	ObjectType forum.ObjectType `json:"object_type,omitempty"`
	ObjectData json.RawMessage  `json:"object_data,omitempty"`
}

type appealStore interface {
	Put(ctx context.Context, ref correlation.MessageRef, entry correlation.Entry) error
	LinkAppeal(ctx context.Context, appealID string, ref correlation.MessageRef) (bool, error)
	GetByAppeal(ctx context.Context, appealID string) (*correlation.MessageRef, error)
	DeleteByAppeal(ctx context.Context, appealID string) (bool, error)
}

// AppealRelay posts appeals into the moderation chat and keeps the
// appeal to message pairing so a closed appeal releases its notice.
type AppealRelay struct {
	groups groupStore
	corr   appealStore
	sender sender
	render renderer
}

func NewAppealRelay(groups groupStore, corr appealStore, sender sender, render renderer) *AppealRelay {
	return &AppealRelay{groups: groups, corr: corr, sender: sender, render: render}
}

func (r *AppealRelay) getLogEntry() *log.Entry {
	return log.WithField("object", "AppealRelay")
}

// Relay is a no-op for an appeal that already has a notice.
func (r *AppealRelay) Relay(ctx context.Context, a Appeal) error {
	if a.AppealID == "" {
		return fmt.Errorf("%w: appeal_id is required", ErrMalformedPayload)
	}
	existing, err := r.corr.GetByAppeal(ctx, a.AppealID)
	if err != nil {
		return err
	}
	if existing != nil {
		r.getLogEntry().WithField("appeal_id", a.AppealID).Debug("appeal already relayed")
		return nil
	}

	group, err := r.lookupGroup(ctx, a)
	if err != nil {
		return err
	}

	var obj *forum.Object
	if a.ObjectType != "" {
		decoded, err := forum.DecodeObject(a.ObjectType, a.ObjectData)
		if err != nil {
			return err
		}
		obj = &decoded
	}

	messageID, err := r.sender.Send(ctx, notify.Notice{
		ChatID: group.ID,
		Segments: r.render.RenderAppeal(notify.AppealReport{
			Lang:      group.Language,
			ForumName: group.ForumName,
			UserName:  a.UserName,
			Reason:    a.Reason,
			Object:    obj,
		}),
	})
	if err != nil {
		return err
	}

	// The notice is out. From here on failures are logged only, since a
	// replay would post it a second time.
	ref := correlation.MessageRef{ChatID: group.ID, MessageID: messageID}
	entry := r.getLogEntry().WithFields(log.Fields{
		"appeal_id":  a.AppealID,
		"message_id": messageID,
	})
	if obj != nil {
		if err := r.corr.Put(ctx, ref, correlation.Entry{
			GroupID:    group.ID,
			ForumID:    group.ForumID,
			ObjectType: a.ObjectType,
			ObjectData: a.ObjectData,
		}); err != nil {
			entry.WithError(err).Warn("correlation not stored, replies to this appeal will be ignored")
		}
	}
	if _, err := r.corr.LinkAppeal(ctx, a.AppealID, ref); err != nil {
		entry.WithError(err).Error("appeal not linked to its notice, closing it will leave the notice tracked")
		return nil
	}

	entry.WithField("group_id", group.ID).Info("appeal relayed")
	return nil
}

func (r *AppealRelay) lookupGroup(ctx context.Context, a Appeal) (*db.Group, error) {
	var (
		group *db.Group
		err   error
	)
	if a.GroupID != 0 {
		group, err = r.groups.GetGroup(ctx, a.GroupID)
	} else {
		group, err = r.groups.GetGroupByForum(ctx, a.ForumID)
	}
	if err != nil {
		return nil, fmt.Errorf("load group for appeal %s: %w", a.AppealID, err)
	}
	if group == nil {
		return nil, fmt.Errorf("%w: appeal %s", ErrUnknownForum, a.AppealID)
	}
	return group, nil
}

// Close drops the correlation pair of a resolved appeal.
func (r *AppealRelay) Close(ctx context.Context, appealID string) error {
	removed, err := r.corr.DeleteByAppeal(ctx, appealID)
	if err != nil {
		return err
	}
	r.getLogEntry().WithField("appeal_id", appealID).WithField("removed", removed).Debug("appeal closed")
	return nil
}
