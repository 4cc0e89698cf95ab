package model

import "context"

// Transport is the chat platform as seen by the router.
type Transport interface {
	// Listen delivers inbound events to handle until ctx is done or the
	// connection fails. A returned error is a run-level failure.
	Listen(ctx context.Context, handle func(Event)) error

	SendText(ctx context.Context, chatID int64, text string, keyboard Keyboard) (SentMessage, error)
	SendPhoto(ctx context.Context, chatID int64, jpeg []byte, keyboard Keyboard) (SentMessage, error)
	EditText(ctx context.Context, msg SentMessage, text string) error
	Delete(ctx context.Context, msg SentMessage) error
	SendChatAction(ctx context.Context, chatID int64, action ChatAction) error
	DownloadPhoto(ctx context.Context, photo PhotoRef) ([]byte, error)
}
