package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxt2005/image-command-bot-go/config"
	"github.com/wxt2005/image-command-bot-go/model"
)

const testToken = "123:abc"

type fakeBotAPI struct {
	t *testing.T

	mu    sync.Mutex
	calls map[string][]map[string]string

	updates     string
	updatesSent atomic.Bool
	failUpdates bool
	files       map[string][]byte
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *httptest.Server) {
	f := &fakeBotAPI{
		t:     t,
		calls: map[string][]map[string]string{},
		files: map[string][]byte{},
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/file/bot"+testToken+"/") {
		data, ok := f.files[strings.TrimPrefix(r.URL.Path, "/file/bot"+testToken+"/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
		return
	}

	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		f.t.Errorf("unexpected path %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)

	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		f.t.Errorf("parse form: %v", err)
	}
	params := map[string]string{}
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}
	if r.MultipartForm != nil {
		for k := range r.MultipartForm.File {
			params[k] = "<file>"
		}
	}
	f.mu.Lock()
	f.calls[method] = append(f.calls[method], params)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"image_bot"}}`)
	case "getUpdates":
		if f.failUpdates {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`)
			return
		}
		if f.updates != "" && f.updatesSent.CompareAndSwap(false, true) {
			fmt.Fprintf(w, `{"ok":true,"result":%s}`, f.updates)
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(20 * time.Millisecond):
		}
		fmt.Fprint(w, `{"ok":true,"result":[]}`)
	case "sendMessage", "sendPhoto":
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":77,"date":0,"chat":{"id":%s,"type":"private"}}}`, params["chat_id"])
	case "editMessageText":
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":77,"date":0,"chat":{"id":1,"type":"private"}}}`)
	case "deleteMessage":
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: message to delete not found"}`)
	case "sendChatAction":
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	case "getFile":
		fmt.Fprintf(w, `{"ok":true,"result":{"file_id":%q,"file_size":%d,"file_path":"photos/%s.jpg"}}`,
			params["file_id"], len(f.files["photos/"+params["file_id"]+".jpg"]), params["file_id"])
	default:
		f.t.Errorf("unexpected method %s", method)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeBotAPI) lastCall(method string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls[method]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func testTelegramConfig(srv *httptest.Server) config.Telegram {
	return config.Telegram{
		BotToken:        testToken,
		PollTimeout:     0,
		PollRetryDelay:  time.Millisecond,
		MaxPollFailures: 3,
		APIEndpoint:     srv.URL + "/bot%s/%s",
		FileEndpoint:    srv.URL + "/file/bot%s/%s",
		MaxFileSize:     1024,
	}
}

func newTestService(t *testing.T, ctx context.Context, srv *httptest.Server) *TelegramService {
	t.Helper()
	s, err := NewTelegramService(ctx, testTelegramConfig(srv))
	require.NoError(t, err)
	return s
}

func TestNewTelegramService_MissingToken(t *testing.T) {
	_, err := NewTelegramService(context.Background(), config.Telegram{})
	assert.ErrorIs(t, err, config.ErrMissingToken)
}

func TestTelegramService_ListenClassifiesUpdates(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	api.updates = `[
		{"update_id":10,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},
			"from":{"id":5,"is_bot":false,"first_name":"Ann","last_name":"Lee","language_code":"ru"},
			"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}},
		{"update_id":11,"message":{"message_id":2,"date":0,"chat":{"id":42,"type":"private"},
			"from":{"id":5,"is_bot":false,"first_name":"Ann","language_code":"ru"},
			"photo":[{"file_id":"small","file_unique_id":"s","width":90,"height":60},
				{"file_id":"big","file_unique_id":"b","width":1280,"height":853,"file_size":9000},
				{"file_id":"mid","file_unique_id":"m","width":320,"height":213}]}},
		{"update_id":12,"message":{"message_id":3,"date":0,"chat":{"id":42,"type":"private"},"text":"invert"}},
		{"update_id":13,"message":{"message_id":4,"date":0,"chat":{"id":42,"type":"private"}}},
		{"update_id":14,"edited_message":{"message_id":3,"date":0,"chat":{"id":42,"type":"private"},"text":"gray"}}
	]`

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestService(t, ctx, srv)

	var events []model.Event
	done := make(chan error, 1)
	go func() {
		done <- s.Listen(ctx, func(ev model.Event) {
			events = append(events, ev)
			if len(events) == 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return")
	}

	require.Len(t, events, 3)

	assert.Equal(t, model.EventStart, events[0].Kind)
	assert.Equal(t, int64(42), events[0].ChatID)
	assert.Equal(t, "ru", events[0].Locale)
	assert.Equal(t, int64(5), events[0].UserID)
	assert.Equal(t, "Ann", events[0].FirstName)
	assert.Equal(t, "Lee", events[0].LastName)

	assert.Equal(t, model.EventPhoto, events[1].Kind)
	assert.Equal(t, "big", events[1].Photo.FileID)
	assert.Equal(t, 1280, events[1].Photo.Width)

	assert.Equal(t, model.EventText, events[2].Kind)
	assert.Equal(t, "invert", events[2].Text)
	assert.Equal(t, "", events[2].Locale)
	assert.Equal(t, 3, events[2].MessageID)
}

func TestTelegramService_ListenGivesUpAfterPollFailures(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	s := newTestService(t, context.Background(), srv)
	api.failUpdates = true

	var events []model.Event
	err := s.Listen(context.Background(), func(ev model.Event) {
		events = append(events, ev)
	})

	assert.ErrorIs(t, err, ErrTooManyPollFailures)
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, model.EventError, ev.Kind)
		assert.False(t, ev.HasChat())
		assert.Error(t, ev.Err)
	}
}

func TestTelegramService_SendTextWithKeyboard(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	s := newTestService(t, context.Background(), srv)

	sent, err := s.SendText(context.Background(), 42, "hello", model.Keyboard{{"invert", "gray"}, {"original"}})
	require.NoError(t, err)
	assert.Equal(t, model.SentMessage{ChatID: 42, MessageID: 77}, sent)

	call := api.lastCall("sendMessage")
	require.NotNil(t, call)
	assert.Equal(t, "42", call["chat_id"])
	assert.Equal(t, "hello", call["text"])

	var markup tgbotapi.ReplyKeyboardMarkup
	require.NoError(t, json.Unmarshal([]byte(call["reply_markup"]), &markup))
	assert.True(t, markup.ResizeKeyboard)
	require.Len(t, markup.Keyboard, 2)
	assert.Equal(t, "gray", markup.Keyboard[0][1].Text)
	assert.Equal(t, "original", markup.Keyboard[1][0].Text)

	_, err = s.SendText(context.Background(), 42, "plain", nil)
	require.NoError(t, err)
	assert.Empty(t, api.lastCall("sendMessage")["reply_markup"])
}

func TestTelegramService_SendPhoto(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	s := newTestService(t, context.Background(), srv)

	sent, err := s.SendPhoto(context.Background(), 9, []byte{0xff, 0xd8, 0xff}, model.Keyboard{{"blur"}})
	require.NoError(t, err)
	assert.Equal(t, model.SentMessage{ChatID: 9, MessageID: 77}, sent)

	call := api.lastCall("sendPhoto")
	require.NotNil(t, call)
	assert.Equal(t, "<file>", call["photo"])
	assert.Contains(t, call["reply_markup"], "blur")
}

func TestTelegramService_ProgressCalls(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	s := newTestService(t, context.Background(), srv)
	ctx := context.Background()
	msg := model.SentMessage{ChatID: 1, MessageID: 77}

	require.NoError(t, s.EditText(ctx, msg, "half"))
	assert.Equal(t, "half", api.lastCall("editMessageText")["text"])
	assert.Equal(t, "77", api.lastCall("editMessageText")["message_id"])

	require.NoError(t, s.SendChatAction(ctx, 1, model.ActionUploadPhoto))
	assert.Equal(t, "upload_photo", api.lastCall("sendChatAction")["action"])

	err := s.Delete(ctx, msg)
	require.Error(t, err)
	var apiErr *tgbotapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
}

func TestTelegramService_DownloadPhoto(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	api.files["photos/abc.jpg"] = []byte("jpeg-data")
	s := newTestService(t, context.Background(), srv)

	data, err := s.DownloadPhoto(context.Background(), model.PhotoRef{FileID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-data"), data)
	assert.Equal(t, "abc", api.lastCall("getFile")["file_id"])
}

func TestTelegramService_DownloadPhotoTooLarge(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	api.files["photos/huge.jpg"] = make([]byte, 2048)
	s := newTestService(t, context.Background(), srv)

	_, err := s.DownloadPhoto(context.Background(), model.PhotoRef{FileID: "huge"})
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestTelegramService_DownloadPhotoMissing(t *testing.T) {
	_, srv := newFakeBotAPI(t)
	s := newTestService(t, context.Background(), srv)

	_, err := s.DownloadPhoto(context.Background(), model.PhotoRef{FileID: "gone"})
	assert.Error(t, err)
}

func TestCountsAsSuccess(t *testing.T) {
	assert.True(t, countsAsSuccess(nil))
	assert.True(t, countsAsSuccess(&tgbotapi.Error{Code: 400, Message: "Bad Request"}))
	assert.False(t, countsAsSuccess(&tgbotapi.Error{Code: 429, Message: "Too Many Requests"}))
	assert.False(t, countsAsSuccess(&tgbotapi.Error{Code: 502, Message: "Bad Gateway"}))
	assert.False(t, countsAsSuccess(errors.New("connection refused")))
}

func TestLargestPhoto(t *testing.T) {
	got := largestPhoto([]tgbotapi.PhotoSize{
		{FileID: "a", Width: 100, Height: 10},
		{FileID: "b", Width: 30, Height: 40},
		{FileID: "c", Width: 20, Height: 60},
	})
	assert.Equal(t, "c", got.FileID)
}
