package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/wxt2005/image-command-bot-go/config"
	"github.com/wxt2005/image-command-bot-go/model"
)

var (
	ErrTooManyPollFailures = errors.New("too many consecutive getUpdates failures")
	ErrFileTooLarge        = errors.New("file exceeds download limit")
)

const (
	breakerMaxFailures = 5
	breakerTimeout     = 30 * time.Second
	breakerInterval    = 60 * time.Second

	photoFileName = "image.jpg"

	// added on top of the long poll timeout for every HTTP request
	requestTimeout = 30 * time.Second
)

// contextClient binds every Bot API request to the lifetime of one
// service, so a pending long poll returns as soon as the service stops.
type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// TelegramService is the Bot API transport. It long polls for updates and
// sends replies through a rate limiter and a circuit breaker.
type TelegramService struct {
	bot          *tgbotapi.BotAPI
	client       *http.Client
	token        string
	fileEndpoint string

	pollTimeout     int
	pollRetryDelay  time.Duration
	maxPollFailures int
	maxFileSize     int64

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*tgbotapi.APIResponse]
}

var _ model.Transport = (*TelegramService)(nil)

// NewTelegramService connects to the Bot API. Requests made by the service
// are cancelled once ctx is done.
func NewTelegramService(ctx context.Context, cfg config.Telegram) (*TelegramService, error) {
	token, err := cfg.Token()
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: time.Duration(cfg.PollTimeout)*time.Second + requestTimeout,
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, cfg.APIEndpoint, contextClient{ctx: ctx, client: client})
	if err != nil {
		return nil, fmt.Errorf("initialize bot api: %w", err)
	}
	bot.Debug = cfg.Debug

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	s := &TelegramService{
		bot:             bot,
		client:          client,
		token:           token,
		fileEndpoint:    cfg.FileEndpoint,
		pollTimeout:     cfg.PollTimeout,
		pollRetryDelay:  cfg.PollRetryDelay,
		maxPollFailures: cfg.MaxPollFailures,
		maxFileSize:     cfg.MaxFileSize,
		limiter:         rate.NewLimiter(limit, burst),
	}
	s.breaker = gobreaker.NewCircuitBreaker[*tgbotapi.APIResponse](gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state change")
		},
		IsSuccessful: countsAsSuccess,
	})

	log.WithFields(log.Fields{
		"bot": bot.Self.UserName,
	}).Info("Authorized on telegram")

	return s, nil
}

// countsAsSuccess keeps requests the API rejected on their merits (bad
// message id, message not modified) from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code > 0 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
	}
	return false
}

// Listen polls getUpdates until ctx is done. Every failed poll is delivered
// as an error event; after maxPollFailures failures in a row Listen gives up
// with ErrTooManyPollFailures.
func (s *TelegramService) Listen(ctx context.Context, handle func(model.Event)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.pollTimeout

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := s.bot.GetUpdates(u)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			log.WithFields(log.Fields{
				"error":    err,
				"failures": failures,
			}).Warn("Get updates failed")
			handle(model.NewErrorEvent(0, err))

			if s.maxPollFailures > 0 && failures >= s.maxPollFailures {
				return fmt.Errorf("%w: %v", ErrTooManyPollFailures, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pollRetryDelay):
			}
			continue
		}
		failures = 0

		for _, update := range updates {
			if update.UpdateID >= u.Offset {
				u.Offset = update.UpdateID + 1
			}
			ev, ok := toEvent(update)
			if !ok {
				log.WithField("update_id", update.UpdateID).Debug("Skip update")
				continue
			}
			handle(ev)
		}
	}
}

func toEvent(update tgbotapi.Update) (model.Event, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return model.Event{}, false
	}

	var locale string
	if msg.From != nil {
		locale = msg.From.LanguageCode
	}

	var ev model.Event
	switch {
	case msg.IsCommand() && msg.Command() == "start":
		ev = model.NewStartEvent(msg.Chat.ID, locale)
	case len(msg.Photo) > 0:
		ev = model.NewPhotoEvent(msg.Chat.ID, locale, largestPhoto(msg.Photo))
	case msg.Text != "":
		ev = model.NewTextEvent(msg.Chat.ID, locale, msg.Text)
	default:
		return model.Event{}, false
	}

	ev.MessageID = msg.MessageID
	if msg.From != nil {
		ev.UserID = msg.From.ID
		ev.FirstName = msg.From.FirstName
		ev.LastName = msg.From.LastName
	}
	return ev, true
}

// largestPhoto picks the size with the most pixels. Sizes arrive smallest
// first, so ties go to the later one.
func largestPhoto(sizes []tgbotapi.PhotoSize) model.PhotoRef {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height >= best.Width*best.Height {
			best = p
		}
	}
	return model.PhotoRef{
		FileID:       best.FileID,
		FileUniqueID: best.FileUniqueID,
		Width:        best.Width,
		Height:       best.Height,
		FileSize:     best.FileSize,
	}
}

func replyKeyboard(keyboard model.Keyboard) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
	}
	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.ResizeKeyboard = true
	return markup
}

func (s *TelegramService) request(ctx context.Context, c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.breaker.Execute(func() (*tgbotapi.APIResponse, error) {
		return s.bot.Request(c)
	})
}

func (s *TelegramService) send(ctx context.Context, chatID int64, c tgbotapi.Chattable) (model.SentMessage, error) {
	resp, err := s.request(ctx, c)
	if err != nil {
		return model.SentMessage{}, err
	}

	var msg tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return model.SentMessage{}, fmt.Errorf("decode sent message: %w", err)
	}
	return model.SentMessage{ChatID: chatID, MessageID: msg.MessageID}, nil
}

func (s *TelegramService) SendText(ctx context.Context, chatID int64, text string, keyboard model.Keyboard) (model.SentMessage, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = replyKeyboard(keyboard)
	}

	sent, err := s.send(ctx, chatID, msg)
	if err != nil {
		log.WithFields(log.Fields{
			"chat_id": chatID,
			"error":   err,
		}).Error("Send message failed")
	}
	return sent, err
}

func (s *TelegramService) SendPhoto(ctx context.Context, chatID int64, jpeg []byte, keyboard model.Keyboard) (model.SentMessage, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  photoFileName,
		Bytes: jpeg,
	})
	if keyboard != nil {
		photo.ReplyMarkup = replyKeyboard(keyboard)
	}

	sent, err := s.send(ctx, chatID, photo)
	if err != nil {
		log.WithFields(log.Fields{
			"chat_id": chatID,
			"bytes":   len(jpeg),
			"error":   err,
		}).Error("Send photo by stream failed")
	}
	return sent, err
}

func (s *TelegramService) EditText(ctx context.Context, msg model.SentMessage, text string) error {
	_, err := s.request(ctx, tgbotapi.NewEditMessageText(msg.ChatID, msg.MessageID, text))
	return err
}

func (s *TelegramService) Delete(ctx context.Context, msg model.SentMessage) error {
	_, err := s.request(ctx, tgbotapi.NewDeleteMessage(msg.ChatID, msg.MessageID))
	return err
}

func (s *TelegramService) SendChatAction(ctx context.Context, chatID int64, action model.ChatAction) error {
	_, err := s.request(ctx, tgbotapi.NewChatAction(chatID, string(action)))
	return err
}

// DownloadPhoto resolves the file path with getFile and fetches the bytes
// from the file endpoint.
func (s *TelegramService) DownloadPhoto(ctx context.Context, photo model.PhotoRef) ([]byte, error) {
	resp, err := s.request(ctx, tgbotapi.FileConfig{FileID: photo.FileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	var file tgbotapi.File
	if err := json.Unmarshal(resp.Result, &file); err != nil {
		return nil, fmt.Errorf("decode file: %w", err)
	}
	if s.maxFileSize > 0 && int64(file.FileSize) > s.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, file.FileSize)
	}

	url := fmt.Sprintf(s.fileEndpoint, s.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %s", httpResp.Status)
	}

	body := io.Reader(httpResp.Body)
	if s.maxFileSize > 0 {
		body = io.LimitReader(httpResp.Body, s.maxFileSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, s.maxFileSize)
	}

	log.WithFields(log.Fields{
		"file_id": photo.FileID,
		"bytes":   len(data),
	}).Debug("Photo downloaded")
	return data, nil
}
