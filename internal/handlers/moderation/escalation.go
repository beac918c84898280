package moderation

import (
	"context"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/forumwarden/internal/correlation"
	"github.com/iamwavecut/forumwarden/internal/db"
	"github.com/iamwavecut/forumwarden/internal/forcedelete"
	"github.com/iamwavecut/forumwarden/internal/forum"
	"github.com/iamwavecut/forumwarden/internal/i18n"
	"github.com/iamwavecut/forumwarden/internal/policy/permissions"
)

const (
	escalationAttempts = 3
	escalationBackoff  = 300 * time.Millisecond
)

type (
	memberLookup interface {
		GetChatMember(config api.GetChatMemberConfig) (api.ChatMember, error)
	}

	correlationLookup interface {
		Get(ctx context.Context, ref correlation.MessageRef) (*correlation.Entry, error)
	}

	groupStore interface {
		GetGroup(ctx context.Context, id int64) (*db.Group, error)
	}

	clientPool interface {
		Get(ctx context.Context, groupID int64) (forum.Client, error)
	}

	taskQueue interface {
		Add(ctx context.Context, t *db.ForceDeleteTask) error
		Cancel(ctx context.Context, key forcedelete.Key) (bool, error)
	}

	replier interface {
		Reply(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	}
)

type Config struct {
	DeleteReactions []string
	BanReactions    []string
	DefaultBanDays  int
}

type action string

const (
	actionDelete action = "delete"
	actionBan    action = "ban"
	actionLookup action = "lookup"
	actionForce  action = "force"
	actionCancel action = "cancel"
)

var keywords = map[string]action{
	"delete": actionDelete,
	"删除":     actionDelete,
	"ban":    actionBan,
	"封禁":     actionBan,
	"lookup": actionLookup,
	"查询":     actionLookup,
	"force":  actionForce,
	"强制删除":   actionForce,
	"cancel": actionCancel,
	"取消":     actionCancel,
}

// request is one moderator instruction resolved against a tracked message.
type request struct {
	action   action
	days     int
	group    *db.Group
	entry    *correlation.Entry
	object   forum.Object
	chatID   int64
	replyTo  int
	operator int64
}

// Escalation lets moderators act on notifications by replying to them,
// reacting to them, or with explicit commands for untracked content.
type Escalation struct {
	members memberLookup
	corr    correlationLookup
	groups  groupStore
	pool    clientPool
	tasks   taskQueue
	replier replier
	config  Config
	policy  forum.Policy
}

func NewEscalation(members memberLookup, corr correlationLookup, groups groupStore, pool clientPool, tasks taskQueue, replier replier, cfg Config) *Escalation {
	if cfg.DefaultBanDays < 1 {
		cfg.DefaultBanDays = db.DefaultBanDays
	}
	return &Escalation{
		members: members,
		corr:    corr,
		groups:  groups,
		pool:    pool,
		tasks:   tasks,
		replier: replier,
		config:  cfg,
		policy:  forum.OneShotPolicy().WithAttempts(escalationAttempts, escalationBackoff),
	}
}

func (e *Escalation) getLogEntry() *log.Entry {
	return log.WithField("object", "Escalation")
}

func (e *Escalation) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil {
		return true, nil
	}
	if u.MessageReaction != nil {
		return e.handleReaction(ctx, u.MessageReaction)
	}

	msg := u.Message
	if msg == nil || chat == nil || user == nil || user.IsBot {
		return true, nil
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "forcedelete", "canceldelete":
			return false, e.handleCommand(ctx, msg, chat, user)
		}
		return true, nil
	}

	if msg.ReplyToMessage == nil {
		return true, nil
	}
	act, days, ok := parseKeyword(msg.Text)
	if !ok {
		return true, nil
	}
	return false, e.handleReply(ctx, act, days, msg, chat, user)
}

// parseKeyword matches the first word of a reply. "ban" accepts an optional
// day count as the second word.
func parseKeyword(text string) (action, int, bool) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "", 0, false
	}
	act, ok := keywords[fields[0]]
	if !ok {
		return "", 0, false
	}
	days := 0
	if act == actionBan && len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
			days = n
		}
	}
	return act, days, true
}

func (e *Escalation) handleReply(ctx context.Context, act action, days int, msg *api.Message, chat *api.Chat, user *api.User) error {
	group, err := e.moderationGroup(ctx, chat.ID)
	if err != nil || group == nil {
		return err
	}
	privileged, err := e.isPrivileged(chat.ID, user.ID)
	if err != nil || !privileged {
		return err
	}

	ref := correlation.MessageRef{ChatID: chat.ID, MessageID: msg.ReplyToMessage.MessageID}
	req, err := e.resolve(ctx, group, ref)
	if err != nil {
		return err
	}
	if req == nil {
		e.send(ctx, chat.ID, msg.MessageID, i18n.Get("This message is no longer tracked", group.Language))
		return nil
	}
	req.action = act
	req.days = days
	req.replyTo = msg.MessageID
	req.operator = user.ID
	return e.run(ctx, req)
}

func (e *Escalation) handleReaction(ctx context.Context, r *api.MessageReactionUpdated) (bool, error) {
	if r.User == nil || r.User.IsBot {
		return true, nil
	}
	act, ok := e.reactionAction(r.NewReaction)
	if !ok {
		return true, nil
	}

	chatID := r.Chat.ID
	group, err := e.moderationGroup(ctx, chatID)
	if err != nil || group == nil {
		return true, err
	}
	privileged, err := e.isPrivileged(chatID, r.User.ID)
	if err != nil || !privileged {
		return true, err
	}

	req, err := e.resolve(ctx, group, correlation.MessageRef{ChatID: chatID, MessageID: r.MessageID})
	if err != nil || req == nil {
		return true, err
	}
	req.action = act
	req.replyTo = r.MessageID
	req.operator = r.User.ID
	return false, e.run(ctx, req)
}

func (e *Escalation) reactionAction(reactions []api.ReactionType) (action, bool) {
	for _, react := range reactions {
		emoji := react.Emoji
		if react.Type == api.StickerTypeCustomEmoji {
			emoji = react.CustomEmoji
		}
		for _, code := range e.config.DeleteReactions {
			if emoji == code {
				return actionDelete, true
			}
		}
		for _, code := range e.config.BanReactions {
			if emoji == code {
				return actionBan, true
			}
		}
	}
	return "", false
}

func (e *Escalation) resolve(ctx context.Context, group *db.Group, ref correlation.MessageRef) (*request, error) {
	entry, err := e.corr.Get(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(err, "lookup correlation")
	}
	if entry == nil {
		return nil, nil
	}
	obj, err := entry.Object()
	if err != nil {
		e.getLogEntry().WithError(err).WithField("ref", ref.String()).Warn("tracked object is unreadable")
		return nil, nil
	}
	return &request{
		group:  group,
		entry:  entry,
		object: obj,
		chatID: ref.ChatID,
	}, nil
}

func (e *Escalation) moderationGroup(ctx context.Context, chatID int64) (*db.Group, error) {
	group, err := e.groups.GetGroup(ctx, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "load moderation group")
	}
	return group, nil
}

func (e *Escalation) isPrivileged(chatID, userID int64) (bool, error) {
	member, err := e.members.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to get chat member")
	}
	return permissions.IsPrivilegedModerator(&member), nil
}
