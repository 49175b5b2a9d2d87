package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"ai-hotline/internal/events"
	"ai-hotline/pkg/metrics"
)

// ManagerConfig holds defaults applied to every session the manager creates.
type ManagerConfig struct {
	MaxSilence   time.Duration
	MaxDuration  time.Duration
	LanguageCode string
	Clock        func() time.Time
}

// Manager owns the live sessions of this process.
//
// Each session has its own mutex; the map lock is held only for lookup,
// insert and delete, so sessions of different calls never wait on each
// other. History order equals lock acquisition order.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*live

	store Store
	sink  events.Sink
	log   *zap.Logger
	cfg   ManagerConfig
}

type live struct {
	mu     sync.Mutex
	s      *Session
	closed bool
}

func NewManager(store Store, sink events.Sink, log *zap.Logger, cfg ManagerConfig) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = events.NewFanout(log)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		sessions: map[string]*live{},
		store:    store,
		sink:     sink,
		log:      log.Named("session"),
		cfg:      cfg,
	}
}

// Create builds a session for callID, persists it and registers it as live.
func (m *Manager) Create(ctx context.Context, callID, tenantID string, opts ...Option) (*Session, error) {
	base := []Option{
		WithClock(m.cfg.Clock),
		WithMaxSilence(m.cfg.MaxSilence),
		WithMaxDuration(m.cfg.MaxDuration),
	}
	if m.cfg.LanguageCode != "" {
		base = append(base, WithLanguageCode(m.cfg.LanguageCode))
	}
	s := New(callID, tenantID, append(base, opts...)...)
	s.Version = 1

	l := &live{s: s}
	l.mu.Lock()
	defer l.mu.Unlock()

	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExists, s.ID)
	}
	m.sessions[s.ID] = l
	m.mu.Unlock()

	if err := m.store.Save(ctx, s); err != nil {
		l.closed = true
		m.mu.Lock()
		delete(m.sessions, s.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("session: persist %s: %w", s.ID, err)
	}

	metrics.SessionsActive.Inc()
	m.log.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("call_id", callID),
		zap.String("tenant_id", tenantID),
	)
	return s.Clone(), nil
}

// Do applies fn to the live session under its lock, persists the result and
// publishes the events fn produced, in order, before releasing the lock.
//
// The returned snapshot reflects fn's effect even when persisting fails.
func (m *Manager) Do(ctx context.Context, id string, fn func(*Session)) (*Session, error) {
	l, err := m.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer l.mu.Unlock()

	fn(l.s)
	evs := l.s.drainEvents()

	l.s.Version++
	var saveErr error
	if err := m.store.Save(ctx, l.s); err != nil {
		saveErr = fmt.Errorf("session: persist %s: %w", id, err)
		m.log.Error("session save failed", zap.String("session_id", id), zap.Error(err))
	}

	for _, e := range evs {
		if err := m.sink.Publish(ctx, e); err != nil {
			m.log.Warn("event publish failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	return l.s.Clone(), saveErr
}

// Snapshot returns a deep copy of the live session.
func (m *Manager) Snapshot(ctx context.Context, id string) (*Session, error) {
	l, err := m.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer l.mu.Unlock()
	return l.s.Clone(), nil
}

// Remove unregisters the session and deletes its snapshot. Later Do,
// Snapshot or Ended calls return ErrNotFound.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	l, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		l.mu.Lock()
		if !l.closed {
			l.closed = true
			metrics.SessionsActive.Dec()
		}
		l.mu.Unlock()
	}
	return m.store.Delete(ctx, id)
}

// Close ends the session and unregisters it under one lock hold, so no
// operation can land between the end and the unregistration. The final
// ENDED snapshot stays in the store, readable through Ended, until Remove.
func (m *Manager) Close(ctx context.Context, id, reason string) (*Session, error) {
	l, err := m.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer l.mu.Unlock()

	l.s.EndSession(reason)
	evs := l.s.drainEvents()
	l.closed = true
	l.s.Version++

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	metrics.SessionsActive.Dec()

	var saveErr error
	if err := m.store.Save(ctx, l.s); err != nil {
		saveErr = fmt.Errorf("session: persist final %s: %w", id, err)
		m.log.Warn("final session save failed", zap.String("session_id", id), zap.Error(err))
	}
	for _, e := range evs {
		if err := m.sink.Publish(ctx, e); err != nil {
			m.log.Warn("event publish failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	m.log.Info("session closed",
		zap.String("session_id", id),
		zap.String("call_id", l.s.CallID),
		zap.String("reason", reason),
	)
	return l.s.Clone(), saveErr
}

// Ended returns the final snapshot of a closed session that has not been
// removed yet. Live sessions are reported as not found.
func (m *Manager) Ended(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != StateEnded {
		return nil, fmt.Errorf("%w: %s not ended", ErrNotFound, id)
	}
	s.now = m.cfg.Clock
	return s, nil
}

// List snapshots every live session, ordered by creation time.
func (m *Manager) List(ctx context.Context) []*Session {
	m.mu.RLock()
	ls := make([]*live, 0, len(m.sessions))
	for _, l := range m.sessions {
		ls = append(ls, l)
	}
	m.mu.RUnlock()

	out := make([]*Session, 0, len(ls))
	for _, l := range ls {
		l.mu.Lock()
		if !l.closed {
			out = append(out, l.s.Clone())
		}
		l.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// acquire returns the live entry for id with its lock held. A session not
// live in this process is restored from the store unless it already ended.
func (m *Manager) acquire(ctx context.Context, id string) (*live, error) {
	m.mu.RLock()
	l, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		var err error
		if l, err = m.restore(ctx, id); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l, nil
}

func (m *Manager) restore(ctx context.Context, id string) (*live, error) {
	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State == StateEnded {
		return nil, fmt.Errorf("%w: %s ended", ErrNotFound, id)
	}
	s.now = m.cfg.Clock

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	l := &live{s: s}
	m.sessions[id] = l
	metrics.SessionsActive.Inc()
	m.log.Info("session restored", zap.String("session_id", id), zap.Int64("version", s.Version))
	return l, nil
}
