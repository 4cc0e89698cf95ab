package controller

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/wxt2005/image-command-bot-go/model"
)

type chatQueue struct {
	events []model.Event
}

// dispatcher gives every conversation its own FIFO queue, so events of one
// chat are handled in arrival order, while a shared semaphore bounds how
// many chats are handled at once. Dispatch never blocks: a chat with
// queueSize events already waiting drops the new one. A chat's worker exits
// as soon as its queue is empty and is started again by the next event.
type dispatcher struct {
	ctx       context.Context
	sem       chan struct{}
	queueSize int
	handle    func(context.Context, model.Event)

	mu     sync.Mutex
	closed bool
	queues map[int64]*chatQueue

	wg sync.WaitGroup
}

func newDispatcher(ctx context.Context, workers, queueSize int, handle func(context.Context, model.Event)) *dispatcher {
	return &dispatcher{
		ctx:       ctx,
		sem:       make(chan struct{}, workers),
		queueSize: queueSize,
		handle:    handle,
		queues:    make(map[int64]*chatQueue),
	}
}

func (d *dispatcher) Dispatch(ev model.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if q, ok := d.queues[ev.ChatID]; ok {
		if len(q.events) >= d.queueSize {
			log.WithFields(eventFields(ev)).WithField("pending", len(q.events)).Warn("Chat queue full, event dropped")
			return
		}
		q.events = append(q.events, ev)
		return
	}

	q := &chatQueue{events: []model.Event{ev}}
	d.queues[ev.ChatID] = q
	d.wg.Add(1)
	go d.work(ev.ChatID, q)
}

func (d *dispatcher) next(chatID int64, q *chatQueue) (model.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(q.events) == 0 {
		delete(d.queues, chatID)
		return model.Event{}, false
	}
	ev := q.events[0]
	q.events[0] = model.Event{}
	q.events = q.events[1:]
	return ev, true
}

func (d *dispatcher) work(chatID int64, q *chatQueue) {
	defer d.wg.Done()

	for {
		ev, ok := d.next(chatID, q)
		if !ok {
			return
		}
		if d.ctx.Err() != nil {
			continue
		}
		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			continue
		}
		func() {
			defer func() { <-d.sem }()
			d.handle(d.ctx, ev)
		}()
	}
}

// active reports how many chats currently own a worker.
func (d *dispatcher) active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Close stops accepting events and waits until queued events are handled
// (or dropped, once the context is done).
func (d *dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}
