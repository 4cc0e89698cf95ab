package controller

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/wxt2005/image-command-bot-go/i18n"
	"github.com/wxt2005/image-command-bot-go/model"
)

// Request carries everything resolved for one event while it is handled.
// It is never shared between events.
type Request struct {
	Event model.Event
	Lang  i18n.Lang
	Log   *log.Entry
}

type Handler func(ctx context.Context, req *Request) error

type Middleware func(Handler) Handler

// Chain wraps h so that mws[0] is the outermost stage.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func eventFields(ev model.Event) log.Fields {
	fields := log.Fields{
		"event_id": ev.ID,
		"event":    ev.Kind.String(),
		"chat_id":  ev.ChatID,
	}
	if ev.UserID != 0 {
		fields["user_id"] = ev.UserID
		fields["first_name"] = ev.FirstName
		fields["last_name"] = ev.LastName
	}
	if ev.Locale != "" {
		fields["locale"] = ev.Locale
	}
	return fields
}

// WithLanguage resolves the reply language from the event's own locale.
func WithLanguage(next Handler) Handler {
	return func(ctx context.Context, req *Request) error {
		req.Lang = i18n.Resolve(req.Event.Locale)
		return next(ctx, req)
	}
}

// WithLogging attaches an event scoped logger and logs the entry into name.
func WithLogging(name string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			req.Log = log.WithFields(eventFields(req.Event)).WithField("handler", name)
			req.Log.Debug("Handle event")
			return next(ctx, req)
		}
	}
}
