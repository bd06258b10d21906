// Package telegram delivers the reservation workflow over the Telegram Bot
// API using long polling.
package telegram

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	sessionmodel "github.com/zhouzirui/foodbot/internal/model/session"
	"github.com/zhouzirui/foodbot/internal/service/reservation"
)

// Handler consumes inbound events.
type Handler interface {
	Handle(ctx context.Context, ev reservation.Event) error
}

// api is the subset of *tgbotapi.BotAPI the gateway needs.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot is a reservation.Gateway backed by a Telegram bot.
type Bot struct {
	api     api
	updates func(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	stop    func()
}

var _ reservation.Gateway = (*Bot)(nil)

// New authorizes the bot token.
func New(token string) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}

	log.WithField("bot", botAPI.Self.UserName).Info("telegram bot authorized")
	return &Bot{
		api:     botAPI,
		updates: botAPI.GetUpdatesChan,
		stop:    botAPI.StopReceivingUpdates,
	}, nil
}

// Run polls for updates until ctx is done. Updates of one user are handled
// strictly in arrival order; different users proceed concurrently.
func (b *Bot) Run(ctx context.Context, h Handler) error {
	if b.updates == nil {
		return errors.New("telegram bot has no update source")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.updates(u)
	defer b.stop()

	queue := newSerializer(func(j job) { b.dispatch(ctx, h, j) })
	defer queue.wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			queue.enqueue(jobFromUpdate(update))
		}
	}
}

// jobFromUpdate keys an update by its sender. Updates without a sender get
// a queue of their own; they only need a callback answer, if anything.
func jobFromUpdate(update tgbotapi.Update) job {
	j := job{key: "update:" + strconv.Itoa(update.UpdateID)}
	if cb := update.CallbackQuery; cb != nil {
		j.callbackID = cb.ID
	}
	j.ev, j.ok = eventFromUpdate(update)
	if j.ok {
		j.key = j.ev.UserID
	}
	return j
}

func (b *Bot) dispatch(ctx context.Context, h Handler, j job) {
	if j.callbackID != "" {
		// Clear the button's loading indicator.
		if _, err := b.api.Request(tgbotapi.NewCallback(j.callbackID, "")); err != nil {
			log.WithError(err).Debug("failed to answer callback")
		}
	}
	if !j.ok {
		return
	}

	if err := h.Handle(ctx, j.ev); err != nil {
		log.WithError(err).WithField("user", j.ev.UserID).Error("failed to handle telegram update")
	}
}

// Send posts a new message to the user's private chat.
func (b *Bot) Send(ctx context.Context, userID string, out reservation.Outbound) (sessionmodel.MessageRef, error) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return sessionmodel.MessageRef{}, errors.Wrapf(err, "invalid telegram chat id %q", userID)
	}

	msg := tgbotapi.NewMessage(chatID, out.Text)
	if markup := keyboard(out.Buttons); markup != nil {
		msg.ReplyMarkup = *markup
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		return sessionmodel.MessageRef{}, errors.Wrap(err, "failed to send telegram message")
	}
	return refOf(sent.Chat.ID, sent.MessageID), nil
}

// Edit replaces the text and buttons of an earlier message.
func (b *Bot) Edit(ctx context.Context, ref sessionmodel.MessageRef, out reservation.Outbound) error {
	chatID, messageID, err := parseRef(ref)
	if err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, out.Text)
	edit.ReplyMarkup = keyboard(out.Buttons)

	if _, err := b.api.Send(edit); err != nil {
		if isNotModified(err) {
			return reservation.ErrNotModified
		}
		return errors.Wrap(err, "failed to edit telegram message")
	}
	return nil
}

// Delete removes a message.
func (b *Bot) Delete(ctx context.Context, ref sessionmodel.MessageRef) error {
	chatID, messageID, err := parseRef(ref)
	if err != nil {
		return err
	}

	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return errors.Wrap(err, "failed to delete telegram message")
	}
	return nil
}

// eventFromUpdate converts a message or callback into a workflow event.
// Updates without a sender (channel posts, edits) are ignored.
func eventFromUpdate(update tgbotapi.Update) (reservation.Event, bool) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil {
			return reservation.Event{}, false
		}
		ev := reservation.Event{
			UserID:  strconv.FormatInt(cb.From.ID, 10),
			Kind:    reservation.EventButton,
			Payload: cb.Data,
			Profile: reservation.Profile{DisplayName: cb.From.FirstName},
		}
		if cb.Message != nil && cb.Message.Chat != nil {
			ev.Reply = refOf(cb.Message.Chat.ID, cb.Message.MessageID)
		}
		return ev, true
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return reservation.Event{}, false
	}

	kind := reservation.EventText
	if msg.IsCommand() {
		kind = reservation.EventCommand
	}
	return reservation.Event{
		UserID:  strconv.FormatInt(msg.From.ID, 10),
		Kind:    kind,
		Payload: msg.Text,
		Message: refOf(msg.Chat.ID, msg.MessageID),
		Profile: reservation.Profile{DisplayName: msg.From.FirstName},
	}, true
}

// keyboard returns nil for a message without buttons so that an edit
// drops the old keyboard.
func keyboard(rows [][]reservation.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}

	markup := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Payload))
		}
		markup = append(markup, buttons)
	}
	if len(markup) == 0 {
		return nil
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(markup...)
	return &kb
}

func refOf(chatID int64, messageID int) sessionmodel.MessageRef {
	return sessionmodel.MessageRef{
		ChatID:    strconv.FormatInt(chatID, 10),
		MessageID: strconv.Itoa(messageID),
	}
}

func parseRef(ref sessionmodel.MessageRef) (int64, int, error) {
	chatID, err := strconv.ParseInt(ref.ChatID, 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid telegram chat id %q", ref.ChatID)
	}
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid telegram message id %q", ref.MessageID)
	}
	return chatID, messageID, nil
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
