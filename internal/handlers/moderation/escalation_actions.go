package moderation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/forumwarden/internal/db"
	"github.com/iamwavecut/forumwarden/internal/forcedelete"
	"github.com/iamwavecut/forumwarden/internal/forum"
	"github.com/iamwavecut/forumwarden/internal/i18n"
	"github.com/iamwavecut/forumwarden/internal/observability"
)

const (
	usageForceDelete  = "/forcedelete <thread|post|comment> <content_id> [thread_id]"
	usageCancelDelete = "/canceldelete <content_id>"
)

func (e *Escalation) run(ctx context.Context, req *request) error {
	entry := e.getLogEntry().WithFields(log.Fields{
		"action":     req.action,
		"group_id":   req.group.ID,
		"content_id": req.object.ContentID(),
		"operator":   req.operator,
	})
	entry.Info("moderator escalation")

	lang := req.group.Language
	switch req.action {
	case actionDelete:
		_, err := forum.CallWithRetry(ctx, e.policy, func(ctx context.Context) (struct{}, error) {
			c, err := e.pool.Get(ctx, req.group.ID)
			if err != nil {
				return struct{}{}, err
			}
			return struct{}{}, forum.DeleteObject(ctx, c, req.entry.ForumID, req.object)
		})
		observability.RecordAction("escalation_delete", err == nil)
		if err != nil {
			entry.WithError(err).Warn("escalated delete failed")
			e.send(ctx, req.chatID, req.replyTo, fmt.Sprintf(i18n.Get("Delete failed: %s", lang), forum.Reason(err)))
			return nil
		}
		e.send(ctx, req.chatID, req.replyTo, i18n.Get("Deleted", lang))

	case actionBan:
		days := req.days
		if days < 1 {
			days = e.config.DefaultBanDays
		}
		_, err := forum.CallWithRetry(ctx, e.policy, func(ctx context.Context) (struct{}, error) {
			c, err := e.pool.Get(ctx, req.group.ID)
			if err != nil {
				return struct{}{}, err
			}
			return struct{}{}, forum.BanAuthor(ctx, c, req.entry.ForumID, req.object, days)
		})
		observability.RecordAction("escalation_ban", err == nil)
		if err != nil {
			entry.WithError(err).Warn("escalated ban failed")
			e.send(ctx, req.chatID, req.replyTo, fmt.Sprintf(i18n.Get("Ban failed: %s", lang), forum.Reason(err)))
			return nil
		}
		e.send(ctx, req.chatID, req.replyTo, fmt.Sprintf(i18n.Get("Banned for %d days", lang), days))

	case actionLookup:
		e.send(ctx, req.chatID, req.replyTo, req.object.Summary())

	case actionForce:
		return e.queue(ctx, &db.ForceDeleteTask{
			GroupID:       req.group.ID,
			ContentID:     req.object.ContentID(),
			ObjectType:    string(req.object.Type),
			ThreadID:      req.object.ThreadID(),
			BotIdentity:   req.group.BotIdentity,
			ChatMessageID: req.replyTo,
			ForumID:       req.entry.ForumID,
			OperatorID:    req.operator,
		})

	case actionCancel:
		return e.cancel(ctx, req.group, req.chatID, req.replyTo, req.object.ContentID())
	}
	return nil
}

func (e *Escalation) queue(ctx context.Context, t *db.ForceDeleteTask) error {
	err := e.tasks.Add(ctx, t)
	if errors.Is(err, forcedelete.ErrAlreadyQueued) {
		return nil
	}
	return errors.WithMessage(err, "queue force delete")
}

func (e *Escalation) cancel(ctx context.Context, group *db.Group, chatID int64, replyTo int, contentID int64) error {
	ok, err := e.tasks.Cancel(ctx, forcedelete.Key{GroupID: group.ID, ContentID: contentID})
	if err != nil {
		return errors.WithMessage(err, "cancel force delete")
	}
	if !ok {
		e.send(ctx, chatID, replyTo, i18n.Get("No force delete task for this content", group.Language))
	}
	return nil
}

func (e *Escalation) handleCommand(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	group, err := e.moderationGroup(ctx, chat.ID)
	if err != nil || group == nil {
		return err
	}
	privileged, err := e.isPrivileged(chat.ID, user.ID)
	if err != nil || !privileged {
		return err
	}

	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "forcedelete":
		t, ok := parseForceDelete(args)
		if !ok {
			e.send(ctx, chat.ID, msg.MessageID, fmt.Sprintf(i18n.Get("Usage: %s", group.Language), usageForceDelete))
			return nil
		}
		t.GroupID = group.ID
		t.ForumID = group.ForumID
		t.BotIdentity = group.BotIdentity
		t.ChatMessageID = msg.MessageID
		t.OperatorID = user.ID
		return e.queue(ctx, t)

	case "canceldelete":
		if len(args) != 1 {
			e.send(ctx, chat.ID, msg.MessageID, fmt.Sprintf(i18n.Get("Usage: %s", group.Language), usageCancelDelete))
			return nil
		}
		contentID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			e.send(ctx, chat.ID, msg.MessageID, fmt.Sprintf(i18n.Get("Usage: %s", group.Language), usageCancelDelete))
			return nil
		}
		return e.cancel(ctx, group, chat.ID, msg.MessageID, contentID)
	}
	return nil
}

// parseForceDelete reads "<type> <content_id> [thread_id]".
func parseForceDelete(args []string) (*db.ForceDeleteTask, bool) {
	if len(args) < 2 || len(args) > 3 {
		return nil, false
	}
	objectType, err := forum.ParseObjectType(args[0])
	if err != nil {
		return nil, false
	}
	contentID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || contentID <= 0 {
		return nil, false
	}
	var threadID int64
	if len(args) == 3 {
		if threadID, err = strconv.ParseInt(args[2], 10, 64); err != nil {
			return nil, false
		}
	}
	if objectType != forum.ObjectThread && threadID == 0 {
		return nil, false
	}
	return &db.ForceDeleteTask{
		ContentID:  contentID,
		ObjectType: string(objectType),
		ThreadID:   threadID,
	}, true
}

func (e *Escalation) send(ctx context.Context, chatID int64, replyTo int, text string) {
	if _, err := e.replier.Reply(ctx, chatID, replyTo, text); err != nil {
		e.getLogEntry().WithError(err).WithField("chat_id", chatID).Warn("reply not delivered")
	}
}
