package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	sessionmodel "github.com/zhouzirui/foodbot/internal/model/session"
	"github.com/zhouzirui/foodbot/internal/service/reservation"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	return tgbotapi.Message{MessageID: 77, Chat: &tgbotapi.Chat{ID: 42}}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type recordingHandler struct {
	events chan reservation.Event
}

func (h *recordingHandler) Handle(ctx context.Context, ev reservation.Event) error {
	h.events <- ev
	return nil
}

func TestEventFromTextAndCommand(t *testing.T) {
	from := &tgbotapi.User{ID: 42, FirstName: "Sara"}
	chat := &tgbotapi.Chat{ID: 42}

	ev, ok := eventFromUpdate(tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 5, From: from, Chat: chat, Text: "40012345"}})
	require.True(t, ok)
	require.Equal(t, reservation.EventText, ev.Kind)
	require.Equal(t, "42", ev.UserID)
	require.Equal(t, "40012345", ev.Payload)
	require.Equal(t, sessionmodel.MessageRef{ChatID: "42", MessageID: "5"}, ev.Message)
	require.Equal(t, "Sara", ev.Profile.DisplayName)

	cmd := &tgbotapi.Message{
		MessageID: 6, From: from, Chat: chat, Text: "/start@foodbot",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 14}},
	}
	ev, ok = eventFromUpdate(tgbotapi.Update{Message: cmd})
	require.True(t, ok)
	require.Equal(t, reservation.EventCommand, ev.Kind)
	require.Equal(t, "/start@foodbot", ev.Payload)
}

func TestEventFromCallback(t *testing.T) {
	ev, ok := eventFromUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 42},
		Data:    "day:1:0",
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 42}},
	}})
	require.True(t, ok)
	require.Equal(t, reservation.EventButton, ev.Kind)
	require.Equal(t, "day:1:0", ev.Payload)
	require.Equal(t, sessionmodel.MessageRef{ChatID: "42", MessageID: "9"}, ev.Reply)
}

func TestEventFromUpdateIgnoresAnonymous(t *testing.T) {
	_, ok := eventFromUpdate(tgbotapi.Update{Message: &tgbotapi.Message{Text: "hi", Chat: &tgbotapi.Chat{ID: 1}}})
	require.False(t, ok)
	_, ok = eventFromUpdate(tgbotapi.Update{})
	require.False(t, ok)
}

func TestKeyboard(t *testing.T) {
	require.Nil(t, keyboard(nil))
	require.Nil(t, keyboard([][]reservation.Button{{}}))

	kb := keyboard([][]reservation.Button{
		{{Text: "a", Payload: "p1"}, {Text: "b", Payload: "p2"}},
		{{Text: "c", Payload: "p3"}},
	})
	require.NotNil(t, kb)
	require.Len(t, kb.InlineKeyboard, 2)
	require.Equal(t, "b", kb.InlineKeyboard[0][1].Text)
	require.Equal(t, "p3", *kb.InlineKeyboard[1][0].CallbackData)
}

func TestSendEditDelete(t *testing.T) {
	fake := &fakeAPI{}
	b := &Bot{api: fake}
	ctx := context.Background()

	ref, err := b.Send(ctx, "42", reservation.Outbound{Text: "hello", Buttons: [][]reservation.Button{{{Text: "x", Payload: "help"}}}})
	require.NoError(t, err)
	require.Equal(t, sessionmodel.MessageRef{ChatID: "42", MessageID: "77"}, ref)

	msg, ok := fake.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	require.Equal(t, int64(42), msg.ChatID)
	require.Equal(t, "hello", msg.Text)

	require.NoError(t, b.Edit(ctx, ref, reservation.Outbound{Text: "edited"}))
	edit, ok := fake.sent[1].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	require.Equal(t, 77, edit.MessageID)
	require.Nil(t, edit.ReplyMarkup)

	require.NoError(t, b.Delete(ctx, ref))
	del, ok := fake.requests[0].(tgbotapi.DeleteMessageConfig)
	require.True(t, ok)
	require.Equal(t, 77, del.MessageID)
}

func TestEditNotModified(t *testing.T) {
	fake := &fakeAPI{sendErr: errors.New("Bad Request: message is not modified: specified new message content and reply markup are exactly the same")}
	b := &Bot{api: fake}

	err := b.Edit(context.Background(), sessionmodel.MessageRef{ChatID: "1", MessageID: "2"}, reservation.Outbound{Text: "same"})
	require.ErrorIs(t, err, reservation.ErrNotModified)
}

func TestSendRejectsBadIDs(t *testing.T) {
	b := &Bot{api: &fakeAPI{}}
	_, err := b.Send(context.Background(), "web-user", reservation.Outbound{Text: "x"})
	require.Error(t, err)
	require.Error(t, b.Delete(context.Background(), sessionmodel.MessageRef{ChatID: "1", MessageID: "x"}))
}

func TestRunDispatchesUntilCancelled(t *testing.T) {
	fake := &fakeAPI{}
	updates := make(chan tgbotapi.Update, 1)
	stopped := make(chan struct{})
	b := &Bot{
		api:     fake,
		updates: func(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return updates },
		stop:    func() { close(stopped) },
	}
	h := &recordingHandler{events: make(chan reservation.Event, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, h) }()

	updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb", From: &tgbotapi.User{ID: 3}, Data: "help"}}

	select {
	case ev := <-h.events:
		require.Equal(t, "help", ev.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("update was not dispatched")
	}

	cancel()
	require.NoError(t, <-done)
	<-stopped

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.requests, 1)
	_, ok := fake.requests[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
}
