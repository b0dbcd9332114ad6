// Package telegram connects the conversation to a Telegram bot using long
// polling, and delivers reminders through the same bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	appLog "hwplanner/internal/log"
	"hwplanner/internal/notify"
	"hwplanner/internal/session"
)

// maxDocumentBytes caps schedule uploads; real timetables are a few KB.
const maxDocumentBytes = 2 << 20

const pollTimeout = 60

// botAPI is the subset of *tgbotapi.BotAPI used outside polling.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Handler is the conversation the bot feeds.
type Handler interface {
	Handle(ctx context.Context, msg session.Message) []session.Reply
}

type Bot struct {
	poller  *tgbotapi.BotAPI
	api     botAPI
	handler Handler
	http    *http.Client
}

// New authorizes the token with Telegram.
func New(token string, h Handler) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	appLog.Info("telegram authorized", "bot", api.Self.UserName)
	return &Bot{
		poller:  api,
		api:     api,
		handler: h,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Notifier returns a notify.Sender that writes to the user's private chat.
func (b *Bot) Notifier() *Notifier {
	return &Notifier{api: b.api}
}

// Run polls for updates until ctx is cancelled. Updates are handled one at
// a time so each user's messages keep their order.
func (b *Bot) Run(ctx context.Context) error {
	if b.poller == nil {
		return errors.New("telegram bot has no poller")
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := b.poller.GetUpdatesChan(cfg)
	appLog.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			b.poller.StopReceivingUpdates()
			appLog.Info("telegram polling stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	m := upd.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	// One bad update must not take down the polling loop.
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("telegram update handler panicked", fmt.Errorf("%v", r), "user", m.From.ID)
			b.reply(m.Chat.ID, session.Reply{Text: "Error: something went wrong, please try again."})
		}
	}()
	msg := session.Message{UserID: m.From.ID, Text: m.Text}

	if doc := m.Document; doc != nil {
		msg.FileName = doc.FileName
		if int64(doc.FileSize) > maxDocumentBytes {
			b.reply(m.Chat.ID, session.Reply{Text: "The file is too large."})
			return
		}
		data, err := b.download(ctx, doc.FileID)
		if err != nil {
			appLog.Error("telegram download failed", err, "user", m.From.ID, "file", doc.FileName)
			b.reply(m.Chat.ID, session.Reply{Text: "Error: could not download the file, please send it again."})
			return
		}
		msg.Document = data
	}

	for _, r := range b.handler.Handle(ctx, msg) {
		b.reply(m.Chat.ID, r)
	}
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDocumentBytes {
		return nil, errors.New("file exceeds size limit")
	}
	return data, nil
}

func (b *Bot) reply(chatID int64, r session.Reply) {
	if _, err := b.api.Send(messageConfig(chatID, r)); err != nil {
		appLog.Error("telegram send failed", err, "chat", chatID)
	}
}

func messageConfig(chatID int64, r session.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, r.Text)
	if r.HTML {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	switch {
	case r.RemoveKeyboard:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	case r.Keyboard != nil:
		rows := make([][]tgbotapi.KeyboardButton, 0, len(r.Keyboard))
		for _, row := range r.Keyboard {
			buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
			}
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.ResizeKeyboard = true
		msg.ReplyMarkup = kb
	}
	return msg
}

// Notifier sends reminders. Private chats share the user's id.
type Notifier struct {
	api botAPI
}

var _ notify.Sender = (*Notifier)(nil)

func (n *Notifier) Send(ctx context.Context, note notify.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(note.UserID, note.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send reminder to %d: %w", note.UserID, err)
	}
	return nil
}
