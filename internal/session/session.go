// Package session provisions isolated browsing sessions and guarantees their
// teardown.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"autoclip/internal/browser"
	"autoclip/internal/failure"
)

// State is the lifecycle position of a Session.
type State string

const (
	StateActive    State = "active"
	StateClosed    State = "closed"
	StateAbandoned State = "abandoned"
)

// Session is one isolated browsing context with exactly one primary page.
// It is owned by the Manager that opened it.
type Session struct {
	ID        string
	ContextID string
	CreatedAt time.Time
	Viewport  browser.Viewport

	ictx browser.IsolatedContext
	busy atomic.Bool

	mu       sync.Mutex
	state    State
	lastBeat time.Time

	stopBeat chan struct{}
	beatDone chan struct{}
	safety   *time.Timer

	stopOnce    sync.Once
	disposeOnce sync.Once
	closeOnce   sync.Once
}

// Page returns the primary page handle.
func (s *Session) Page() browser.Page { return s.ictx.Page() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastBeat is the time of the most recent heartbeat, or CreatedAt.
func (s *Session) LastBeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBeat
}

// HeartbeatActive reports whether the heartbeat goroutine is still running.
func (s *Session) HeartbeatActive() bool {
	select {
	case <-s.beatDone:
		return false
	default:
		return true
	}
}

// Acquire claims the session for one workflow. Release must follow.
func (s *Session) Acquire() error {
	if s.State() != StateActive {
		return failure.ErrSessionClosed
	}
	if !s.busy.CompareAndSwap(false, true) {
		return failure.ErrSessionBusy
	}
	return nil
}

func (s *Session) Release() { s.busy.Store(false) }

// Info is a diagnostic snapshot of a session.
type Info struct {
	ID        string    `json:"id"`
	ContextID string    `json:"contextId"`
	CreatedAt time.Time `json:"createdAt"`
	LastBeat  time.Time `json:"lastBeat"`
	State     State     `json:"state"`
	Busy      bool      `json:"busy"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		ContextID: s.ContextID,
		CreatedAt: s.CreatedAt,
		LastBeat:  s.lastBeat,
		State:     s.state,
		Busy:      s.busy.Load(),
	}
}

func (s *Session) heartbeat(interval time.Duration, beat func(time.Time)) {
	defer close(s.beatDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopBeat:
			return
		case t := <-ticker.C:
			s.mu.Lock()
			s.lastBeat = t
			s.mu.Unlock()
			beat(t)
		}
	}
}

// stopHeartbeat signals the heartbeat once and waits for it to exit.
func (s *Session) stopHeartbeat() {
	s.stopOnce.Do(func() { close(s.stopBeat) })
	<-s.beatDone
}

// dispose destroys the isolated context at most once.
func (s *Session) dispose() (first bool, err error) {
	s.disposeOnce.Do(func() {
		first = true
		err = s.ictx.Close()
	})
	return first, err
}
