// Package supervisor keeps the bot running: each attempt that fails is
// logged and started again after a fixed delay.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultDelay = 15 * time.Second

// RunFunc is one attempt. It should block until the attempt ends.
type RunFunc func(ctx context.Context) error

type Supervisor struct {
	delay    time.Duration
	run      RunFunc
	attempts atomic.Int64

	// OnRestart, when set, is called after a failed attempt and before the
	// delay, with the attempt number and its error.
	OnRestart func(attempt int, err error)
}

func New(delay time.Duration, run RunFunc) *Supervisor {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Supervisor{delay: delay, run: run}
}

// Attempts reports how many attempts have been started.
func (s *Supervisor) Attempts() int {
	return int(s.attempts.Load())
}

// Run restarts the attempt until ctx is done and returns ctx's error.
func (s *Supervisor) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		s.attempts.Add(1)
		err := s.attempt(ctx)
		if ctx.Err() != nil {
			log.WithField("attempt", attempt).Info("Supervisor stopped")
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("run returned without error")
		}

		log.WithFields(log.Fields{
			"attempt": attempt,
			"error":   err,
		}).Error("Bot run failed")
		if s.OnRestart != nil {
			s.OnRestart(attempt, err)
		}

		log.Infof("Restarting the bot after %s", s.delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
}

func (s *Supervisor) attempt(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return s.run(ctx)
}
