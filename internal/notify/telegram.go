package notify

import (
	"context"
	"errors"
	"fmt"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
)

const (
	messageLimit = 4096
	captionLimit = 1024
)

var ErrEmptyNotice = errors.New("notice has nothing to send")

type messenger interface {
	Send(c api.Chattable) (api.Message, error)
}

// Telegram delivers notices through the bot API. A notice carrying an image
// goes out as a photo with the text as its caption.
type Telegram struct {
	bot messenger
}

func NewTelegram(bot messenger) *Telegram {
	return &Telegram{bot: bot}
}

// Send returns the id of the delivered message.
func (t *Telegram) Send(ctx context.Context, n Notice) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	text := n.text()
	image := n.image()
	if text == "" && image == "" {
		return 0, ErrEmptyNotice
	}

	var msg api.Chattable
	if image != "" {
		photo := api.NewPhoto(n.ChatID, api.FileURL(image))
		photo.Caption = truncate(text, captionLimit)
		if n.ReplyTo != 0 {
			photo.ReplyParameters = replyTo(n)
		}
		msg = photo
	} else {
		m := api.NewMessage(n.ChatID, truncate(text, messageLimit))
		m.LinkPreviewOptions.IsDisabled = true
		if n.ReplyTo != 0 {
			m.ReplyParameters = replyTo(n)
		}
		msg = m
	}

	sent, err := t.bot.Send(msg)
	if err != nil {
		log.WithField("object", "Notifier").WithError(err).WithFields(log.Fields{
			"chat_id":  n.ChatID,
			"reply_to": n.ReplyTo,
			"photo":    image != "",
		}).Warn("send failed")
		return 0, fmt.Errorf("send notice to %d: %w", n.ChatID, err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) Reply(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	return t.Send(ctx, Notice{ChatID: chatID, ReplyTo: replyTo, Segments: []Segment{Text(text)}})
}

func replyTo(n Notice) api.ReplyParameters {
	return api.ReplyParameters{
		MessageID:                n.ReplyTo,
		ChatID:                   n.ChatID,
		AllowSendingWithoutReply: true,
	}
}
