package model

import (
	"fmt"

	"github.com/google/uuid"
)

type EventKind int

const (
	EventStart EventKind = iota + 1
	EventText
	EventPhoto
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventText:
		return "text"
	case EventPhoto:
		return "photo"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// PhotoRef points at a photo held by the transport, it is resolved to
// bytes through Transport.DownloadPhoto.
type PhotoRef struct {
	FileID       string
	FileUniqueID string
	Width        int
	Height       int
	FileSize     int
}

// Event is one classified inbound occurrence. Only the fields relevant to
// Kind are set; ChatID is zero for transport errors that belong to no chat.
type Event struct {
	ID        string
	Kind      EventKind
	ChatID    int64
	MessageID int
	UserID    int64
	FirstName string
	LastName  string
	Locale    string
	Text      string
	Photo     PhotoRef
	Err       error
}

func (e Event) HasChat() bool {
	return e.ChatID != 0
}

func newEvent(kind EventKind) Event {
	return Event{ID: uuid.NewString(), Kind: kind}
}

func NewStartEvent(chatID int64, locale string) Event {
	e := newEvent(EventStart)
	e.ChatID = chatID
	e.Locale = locale
	return e
}

func NewTextEvent(chatID int64, locale, text string) Event {
	e := newEvent(EventText)
	e.ChatID = chatID
	e.Locale = locale
	e.Text = text
	return e
}

func NewPhotoEvent(chatID int64, locale string, photo PhotoRef) Event {
	e := newEvent(EventPhoto)
	e.ChatID = chatID
	e.Locale = locale
	e.Photo = photo
	return e
}

// NewErrorEvent builds a transport error event. chatID may be zero.
func NewErrorEvent(chatID int64, cause error) Event {
	e := newEvent(EventError)
	e.ChatID = chatID
	e.Err = cause
	return e
}
