package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"runtime"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/wxt2005/image-command-bot-go/i18n"
	"github.com/wxt2005/image-command-bot-go/model"
	"github.com/wxt2005/image-command-bot-go/store"
	"github.com/wxt2005/image-command-bot-go/transform"
)

const (
	progressStart = "⬜⬜⬜⬜⬜"
	progressHalf  = "⬛⬛⬛⬜⬜"
	progressDone  = "⬛⬛⬛⬛⬛"

	replyJPEGQuality = 90
)

var errTransportStopped = errors.New("transport stopped listening")

type Options struct {
	Workers   int
	QueueSize int
}

// Router classifies inbound events and produces the replies.
type Router struct {
	transport model.Transport
	images    store.ImageStore
	registry  *transform.Registry
	keyboard  model.Keyboard
	opts      Options
	handlers  map[model.EventKind]Handler
}

func NewRouter(transport model.Transport, images store.ImageStore, registry *transform.Registry, opts Options) *Router {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}

	r := &Router{
		transport: transport,
		images:    images,
		registry:  registry,
		keyboard:  registry.Keyboard(),
		opts:      opts,
	}

	pipeline := func(name string, h Handler) Handler {
		return Chain(h, WithLanguage, WithLogging(name), r.withFaultRecovery)
	}
	r.handlers = map[model.EventKind]Handler{
		model.EventStart: pipeline("start", r.onStart),
		model.EventText:  pipeline("request", r.onText),
		model.EventPhoto: pipeline("photo", r.onPhoto),
		model.EventError: pipeline("error", r.onError),
	}

	return r
}

// Run feeds transport events through the per conversation dispatcher until
// the transport stops. The returned error is a run-level failure.
func (r *Router) Run(ctx context.Context) error {
	d := newDispatcher(ctx, r.opts.Workers, r.opts.QueueSize, r.Handle)
	defer d.Close()

	log.WithFields(log.Fields{
		"workers":    r.opts.Workers,
		"queue_size": r.opts.QueueSize,
	}).Info("Router started")

	err := r.transport.Listen(ctx, d.Dispatch)
	if err == nil && ctx.Err() == nil {
		err = errTransportStopped
	}
	return err
}

// Handle processes one event synchronously. Per-event faults are reported
// to the user and never returned.
func (r *Router) Handle(ctx context.Context, ev model.Event) {
	h, ok := r.handlers[ev.Kind]
	if !ok {
		log.WithFields(eventFields(ev)).Warn("Unknown event kind")
		return
	}
	h(ctx, &Request{Event: ev})
}

func (r *Router) withFaultRecovery(next Handler) Handler {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
			}
			if err != nil {
				r.reportFault(ctx, req, err)
				err = nil
			}
		}()
		return next(ctx, req)
	}
}

func (r *Router) reportFault(ctx context.Context, req *Request, cause error) {
	entry := req.Log
	if entry == nil {
		entry = log.WithFields(eventFields(req.Event))
	}
	entry.WithFields(log.Fields{
		"error":         cause,
		"text":          req.Event.Text,
		"photo_file_id": req.Event.Photo.FileID,
	}).Error("Failed to handle event")

	if !req.Event.HasChat() {
		return
	}
	if _, err := r.transport.SendText(ctx, req.Event.ChatID, i18n.Format(i18n.ErrorText, req.Lang), nil); err != nil {
		entry.WithError(err).Warn("Send error message failed")
	}
}

func (r *Router) onStart(ctx context.Context, req *Request) error {
	_, err := r.transport.SendText(ctx, req.Event.ChatID, i18n.Format(i18n.WelcomeMessage, req.Lang), nil)
	return err
}

func (r *Router) onText(ctx context.Context, req *Request) error {
	ev := req.Event
	req.Log.WithField("text", ev.Text).Debug("Text command")

	data, ok, err := r.images.Get(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	if !ok {
		_, err := r.transport.SendText(ctx, ev.ChatID, i18n.Format(i18n.NeedToSendPicture, req.Lang), nil)
		return err
	}

	fn, ok := r.registry.Resolve(ev.Text)
	if !ok {
		_, err := r.transport.SendText(ctx, ev.ChatID, i18n.Format(i18n.UnknownCommand, req.Lang, ev.Text), nil)
		return err
	}

	r.chatAction(ctx, req, model.ActionUploadPhoto)

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode stored image: %w", err)
	}
	req.Log.WithFields(log.Fields{
		"format": format,
		"size":   img.Bounds().Size().String(),
	}).Debug("Image loaded")

	result, err := fn(img)
	if err != nil {
		return fmt.Errorf("command %s: %w", ev.Text, err)
	}

	if result.IsText() {
		req.Log.Debug("Reply text")
		_, err = r.transport.SendText(ctx, ev.ChatID, result.Text, r.keyboard)
		return err
	}

	req.Log.Debug("Reply photo")
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, result.Image, &jpeg.Options{Quality: replyJPEGQuality}); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = r.transport.SendPhoto(ctx, ev.ChatID, buf.Bytes(), r.keyboard)
	return err
}

func (r *Router) onPhoto(ctx context.Context, req *Request) error {
	ev := req.Event
	req.Log.Debug("Downloading a picture ...")

	downloading := i18n.Format(i18n.DownloadingPicture, req.Lang)
	var progress *model.SentMessage
	if msg, err := r.transport.SendText(ctx, ev.ChatID, downloading+"\n"+progressStart, nil); err != nil {
		req.Log.WithError(err).Warn("Send progress message failed")
	} else {
		progress = &msg
	}

	r.chatAction(ctx, req, model.ActionTyping)

	data, err := r.transport.DownloadPhoto(ctx, ev.Photo)
	if err != nil {
		return fmt.Errorf("download photo: %w", err)
	}

	r.editProgress(ctx, req, progress, downloading+"\n"+progressHalf)

	if err := r.images.Put(ctx, ev.ChatID, data); err != nil {
		return fmt.Errorf("store photo: %w", err)
	}

	req.Log.WithField("bytes", len(data)).Debug("Picture downloaded!")
	r.editProgress(ctx, req, progress, i18n.Format(i18n.PictureDownloaded, req.Lang)+"\n"+progressDone)
	if progress != nil {
		if err := r.transport.Delete(ctx, *progress); err != nil {
			req.Log.WithError(err).Warn("Delete progress message failed")
		}
	}

	_, err = r.transport.SendText(ctx, ev.ChatID, i18n.Format(i18n.CommandsAreNowAvailable, req.Lang), r.keyboard)
	return err
}

func (r *Router) onError(ctx context.Context, req *Request) error {
	req.Log.WithError(req.Event.Err).Error("Transport error")

	if !req.Event.HasChat() {
		return nil
	}
	if _, err := r.transport.SendText(ctx, req.Event.ChatID, i18n.Format(i18n.ErrorText, req.Lang), nil); err != nil {
		req.Log.WithError(err).Warn("Send error message failed")
	}
	return nil
}

func (r *Router) editProgress(ctx context.Context, req *Request, progress *model.SentMessage, text string) {
	if progress == nil {
		return
	}
	if err := r.transport.EditText(ctx, *progress, text); err != nil {
		req.Log.WithError(err).Warn("Edit progress message failed")
	}
}

func (r *Router) chatAction(ctx context.Context, req *Request, action model.ChatAction) {
	if err := r.transport.SendChatAction(ctx, req.Event.ChatID, action); err != nil {
		req.Log.WithError(err).Debug("Send chat action failed")
	}
}
