package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/forumwarden/internal/db"
)

type service struct {
	bot    *api.BotAPI
	db     db.Client
	logger *log.Entry
}

func NewService(bot *api.BotAPI, db db.Client, logger *log.Entry) *service {
	return &service{
		bot:    bot,
		db:     db,
		logger: logger,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

// GetGroup returns the moderation group bound to chatID, or nil when the chat
// is not one.
func (s *service) GetGroup(ctx context.Context, chatID int64) (*db.Group, error) {
	group, err := s.db.GetGroup(ctx, chatID)
	if err != nil {
		return nil, errors.WithMessage(err, "cant get group")
	}
	return group, nil
}

func (s *service) GetLanguage(ctx context.Context, chatID int64) string {
	group, err := s.GetGroup(ctx, chatID)
	if err != nil {
		s.logger.WithError(err).WithField("chat_id", chatID).Debug("language lookup failed")
		return ""
	}
	if group == nil {
		return ""
	}
	return group.Language
}
