package controller

import (
	"context"
	"errors"
	"sync"

	"github.com/wxt2005/image-command-bot-go/model"
)

type sentKind string

const (
	sentText   sentKind = "text"
	sentPhoto  sentKind = "photo"
	sentEdit   sentKind = "edit"
	sentDelete sentKind = "delete"
	sentAction sentKind = "action"
)

type sent struct {
	Kind     sentKind
	ChatID   int64
	Text     string
	Photo    []byte
	Keyboard model.Keyboard
	Msg      model.SentMessage
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []sent
	nextID int

	photos map[string][]byte

	failTextOnce error
	failEdit     error
	failDelete   error
	failDownload error

	listen func(ctx context.Context, handle func(model.Event)) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{photos: map[string][]byte{}}
}

func (f *fakeTransport) record(s sent) model.SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.Msg.MessageID == 0 {
		f.nextID++
		s.Msg = model.SentMessage{ChatID: s.ChatID, MessageID: f.nextID}
	}
	f.sent = append(f.sent, s)
	return s.Msg
}

func (f *fakeTransport) Listen(ctx context.Context, handle func(model.Event)) error {
	if f.listen != nil {
		return f.listen(ctx, handle)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string, keyboard model.Keyboard) (model.SentMessage, error) {
	f.mu.Lock()
	if err := f.failTextOnce; err != nil {
		f.failTextOnce = nil
		f.mu.Unlock()
		return model.SentMessage{}, err
	}
	f.mu.Unlock()
	return f.record(sent{Kind: sentText, ChatID: chatID, Text: text, Keyboard: keyboard}), nil
}

func (f *fakeTransport) SendPhoto(_ context.Context, chatID int64, jpeg []byte, keyboard model.Keyboard) (model.SentMessage, error) {
	return f.record(sent{Kind: sentPhoto, ChatID: chatID, Photo: jpeg, Keyboard: keyboard}), nil
}

func (f *fakeTransport) EditText(_ context.Context, msg model.SentMessage, text string) error {
	if f.failEdit != nil {
		return f.failEdit
	}
	f.record(sent{Kind: sentEdit, ChatID: msg.ChatID, Text: text, Msg: msg})
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, msg model.SentMessage) error {
	if f.failDelete != nil {
		return f.failDelete
	}
	f.record(sent{Kind: sentDelete, ChatID: msg.ChatID, Msg: msg})
	return nil
}

func (f *fakeTransport) SendChatAction(_ context.Context, chatID int64, action model.ChatAction) error {
	f.record(sent{Kind: sentAction, ChatID: chatID, Text: string(action)})
	return nil
}

func (f *fakeTransport) DownloadPhoto(_ context.Context, photo model.PhotoRef) ([]byte, error) {
	if f.failDownload != nil {
		return nil, f.failDownload
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.photos[photo.FileID]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

// replies returns text and photo messages sent to chatID, skipping edits,
// deletes and chat actions.
func (f *fakeTransport) replies(chatID int64) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sent {
		if s.ChatID == chatID && (s.Kind == sentText || s.Kind == sentPhoto) {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) all(chatID int64) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sent {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}
