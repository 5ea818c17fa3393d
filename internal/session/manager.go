package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"autoclip/internal/browser"
	"autoclip/internal/failure"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the session lifecycle budgets and viewports.
type Config struct {
	HeartbeatInterval time.Duration    `mapstructure:"heartbeat_interval"`
	SafetyTimeout     time.Duration    `mapstructure:"safety_timeout"`
	Mobile            browser.Viewport `mapstructure:"mobile"`
	Desktop           browser.Viewport `mapstructure:"desktop"`
}

// Manager opens, tracks and tears down sessions. All heartbeat and timer
// state lives on the sessions it owns.
type Manager struct {
	driver browser.Driver
	cfg    Config
	log    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(driver browser.Driver, cfg Config, log *zap.Logger) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	return &Manager{
		driver:   driver,
		cfg:      cfg,
		log:      log.Named("session"),
		sessions: make(map[string]*Session),
	}
}

// OpenMobile opens a session emulating the configured mobile device.
func (m *Manager) OpenMobile(ctx context.Context) (*Session, error) {
	return m.Open(ctx, m.cfg.Mobile)
}

// OpenDesktop opens a session with the configured desktop viewport.
func (m *Manager) OpenDesktop(ctx context.Context) (*Session, error) {
	return m.Open(ctx, m.cfg.Desktop)
}

// Open provisions an isolated context sized to vp, starts its heartbeat and
// arms the safety timer.
func (m *Manager) Open(ctx context.Context, vp browser.Viewport) (*Session, error) {
	ictx, err := m.driver.NewIsolatedContext(ctx, vp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrSessionCreationFailed, err)
	}

	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		ContextID: ictx.ID(),
		CreatedAt: now,
		Viewport:  vp,
		ictx:      ictx,
		state:     StateActive,
		lastBeat:  now,
		stopBeat:  make(chan struct{}),
		beatDone:  make(chan struct{}),
	}
	log := m.log.With(zap.String("session", s.ID))

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	go s.heartbeat(m.cfg.HeartbeatInterval, func(t time.Time) {
		log.Debug("heartbeat", zap.Duration("age", t.Sub(s.CreatedAt)))
	})
	if m.cfg.SafetyTimeout > 0 {
		s.safety = time.AfterFunc(m.cfg.SafetyTimeout, func() { m.abandon(s) })
	}

	log.Info("session opened",
		zap.String("context", s.ContextID),
		zap.Int("width", vp.Width),
		zap.Int("height", vp.Height),
		zap.Bool("mobile", vp.Mobile))
	return s, nil
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", failure.ErrUnknownSession, id)
	}
	return s, nil
}

// List snapshots the live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Close stops the heartbeat, clears the safety timer and destroys the
// isolated context. It is idempotent and never fails: a destroy error is
// only logged.
func (m *Manager) Close(s *Session) {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		if s.safety != nil {
			s.safety.Stop()
		}
		s.stopHeartbeat()

		s.mu.Lock()
		if s.state == StateActive {
			s.state = StateClosed
		}
		s.mu.Unlock()

		m.forget(s)
		log := m.log.With(zap.String("session", s.ID))
		if first, err := s.dispose(); err != nil {
			log.Warn("failed to destroy isolated context", zap.Error(err))
		} else if first {
			log.Info("session closed", zap.Duration("lifetime", time.Since(s.CreatedAt)))
		}
	})
}

// CloseByID closes the session if it is still tracked.
func (m *Manager) CloseByID(id string) {
	s, err := m.Get(id)
	if err != nil {
		m.log.Debug("close of untracked session", zap.String("session", id))
		return
	}
	m.Close(s)
}

// Shutdown closes every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()
	for _, s := range live {
		m.Close(s)
	}
}

// abandon runs when the safety timer fires before an explicit close.
func (m *Manager) abandon(s *Session) {
	s.stopHeartbeat()

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateAbandoned
	s.mu.Unlock()

	m.forget(s)
	log := m.log.With(zap.String("session", s.ID))
	log.Warn("session abandoned by safety timer", zap.Duration("timeout", m.cfg.SafetyTimeout))
	if _, err := s.dispose(); err != nil {
		log.Warn("failed to destroy isolated context", zap.Error(err))
	}
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.ID]; ok && cur == s {
		delete(m.sessions, s.ID)
	}
}
