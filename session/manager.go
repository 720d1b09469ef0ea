package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viant/mcpway/internal/collection"
	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
)

// DefaultIdleTimeout is the default idle timeout in stateful mode.
const DefaultIdleTimeout = 60 * time.Second

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	IdleTimeout time.Duration
	Stateful    bool // Streamable-HTTP stateful vs per-request stateless mode
	Sink        telemetry.Sink
	Metrics     *telemetry.Metrics
}

func (o ManagerOptions) normalized() ManagerOptions {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	return o
}

// Manager tracks every logical session for one gateway instance. The
// session table is protected by a read/write lock; BeginOrAttach,
// Terminate, and Sweep are its writers.
type Manager struct {
	sessions *collection.SyncMap[string, *Session]
	opts     ManagerOptions
}

// NewManager constructs a Manager.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		sessions: collection.NewSyncMap[string, *Session](),
		opts:     opts.normalized(),
	}
}

// BeginOrAttach allocates a new session when hint is empty (a fresh
// initialize request), or attaches to an existing one. In stateful
// Streamable-HTTP mode a non-empty hint that doesn't resolve is a binding
// failure the caller should turn into HTTP 404 without mutating
// manager state.
func (m *Manager) BeginOrAttach(ctx context.Context, hint string, protocolVersion string) (*Session, error) {
	if hint != "" {
		if existing, ok := m.sessions.Get(hint); ok {
			existing.Touch()
			return existing, nil
		}
		return nil, ErrUnknownSession
	}
	s := New(uuid.NewString(), protocolVersion)
	m.sessions.Put(s.ID, s)
	m.opts.Metrics.SessionOpened(ctx)
	telemetry.Info(ctx, m.opts.Sink, "session", "session created", map[string]any{"session_id": s.ID})
	return s, nil
}

// Get looks up a session by id without touching its activity clock.
func (m *Manager) Get(id string) (*Session, bool) {
	return m.sessions.Get(id)
}

// Touch updates last-activity for the session.
func (m *Manager) Touch(s *Session) {
	s.Touch()
}

// Close transitions a session to Closing, to be followed by Terminate once
// in-flight requests drain (explicit client disconnect or termination,
// the session lifecycle).
func (m *Manager) Close(s *Session) {
	s.setState(Closing)
}

// Terminate cancels every outstanding request on the session with err,
// removes it from the table, and returns how many were cancelled.
func (m *Manager) Terminate(ctx context.Context, s *Session, err *jsonrpc.Error) int {
	n := s.terminate(err)
	m.sessions.Delete(s.ID)
	m.opts.Metrics.SessionClosed(ctx)
	return n
}

// Sweep evicts sessions idle beyond the configured timeout, cancelling their
// outstanding correlation entries with "-32000 session timed out", so no
// ghost entries survive eviction. It is a no-op in stateless mode, where
// sessions never outlive a single request/response pair to begin with.
func (m *Manager) Sweep(ctx context.Context) []*Session {
	if !m.opts.Stateful {
		return nil
	}
	var evicted []*Session
	m.sessions.Range(func(id string, s *Session) bool {
		if s.IdleSince() >= m.opts.IdleTimeout {
			evicted = append(evicted, s)
		}
		return true
	})
	for _, s := range evicted {
		n := s.terminate(jsonrpc.NewSessionTimeout("session timed out"))
		m.sessions.Delete(s.ID)
		m.opts.Metrics.SessionEvicted(ctx)
		telemetry.Info(ctx, m.opts.Sink, "session", "session evicted", map[string]any{
			"session_id": s.ID, "cancelled_requests": n,
		})
	}
	return evicted
}

// RunSweeper starts a goroutine that calls Sweep on a fixed interval until
// ctx is cancelled. The caller owns shutdown via ctx.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.opts.IdleTimeout / 4
		if interval <= 0 {
			interval = time.Second
		}
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Count returns the number of tracked sessions (used by the admin view).
func (m *Manager) Count() int {
	return m.sessions.Len()
}
