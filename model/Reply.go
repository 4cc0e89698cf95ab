package model

// Keyboard is an ordered grid of command buttons attached to a reply.
type Keyboard [][]string

// SentMessage identifies a message sent by the bot, for later edit or delete.
type SentMessage struct {
	ChatID    int64
	MessageID int
}

type ChatAction string

const (
	ActionTyping      ChatAction = "typing"
	ActionUploadPhoto ChatAction = "upload_photo"
)
