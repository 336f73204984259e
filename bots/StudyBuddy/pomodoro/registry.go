package pomodoro

import (
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
)

const (
	MinMinutes     = 1
	MaxMinutes     = 180
	DefaultMinutes = 25
)

var (
	ErrOutOfRange     = errors.New("minutes out of range")
	ErrAlreadyRunning = errors.New("timer is already running")
)

// Session describes a timer run that has completed naturally
type Session struct {
	Owner     int64
	Minutes   int
	StartedAt time.Time
}

type entry struct {
	session Session
	timer   *clock.Timer
	cancel  chan struct{}
}

// Registry keeps at most one running timer per owner.
//
// An entry leaves the map exactly once: either the timer fires or Stop is
// called. Whoever removes it under the mutex decides the outcome, so a
// stopped timer never completes and a completed timer can't be stopped.
type Registry struct {
	clk    clock.Clock
	mu     sync.Mutex
	timers map[int64]*entry
}

func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{
		clk:    clk,
		timers: make(map[int64]*entry),
	}
}

// Start arms a timer for the owner. done is called from a separate goroutine
// once the timer completes; it's never called if the timer is stopped.
func (r *Registry) Start(owner int64, minutes int, done func(Session)) (Session, error) {
	if minutes < MinMinutes || minutes > MaxMinutes {
		return Session{}, ErrOutOfRange
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.timers[owner]; ok {
		return Session{}, ErrAlreadyRunning
	}

	e := &entry{
		session: Session{Owner: owner, Minutes: minutes, StartedAt: r.clk.Now()},
		timer:   r.clk.NewTimer(time.Duration(minutes) * time.Minute),
		cancel:  make(chan struct{}),
	}
	r.timers[owner] = e

	go r.wait(e, done)

	return e.session, nil
}

func (r *Registry) wait(e *entry, done func(Session)) {
	select {
	case <-e.timer.C:
	case <-e.cancel:
		return
	}

	r.mu.Lock()
	won := r.timers[e.session.Owner] == e
	if won {
		delete(r.timers, e.session.Owner)
	}
	r.mu.Unlock()

	if won && done != nil {
		done(e.session)
	}
}

// Stop cancels the owner's running timer. It reports false if there's no
// running timer.
func (r *Registry) Stop(owner int64) bool {
	r.mu.Lock()
	e, ok := r.timers[owner]
	if ok {
		delete(r.timers, owner)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	e.timer.Stop()
	close(e.cancel)
	return true
}

// Running returns the owner's running session, if any
func (r *Registry) Running(owner int64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.timers[owner]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// StopAll cancels every running timer, e.g. on shutdown
func (r *Registry) StopAll() int {
	r.mu.Lock()
	entries := r.timers
	r.timers = make(map[int64]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		close(e.cancel)
	}
	return len(entries)
}
