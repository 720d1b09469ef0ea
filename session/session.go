// Package session tracks logical MCP sessions: initialize handshake state,
// negotiated protocol version, session id, per-session overrides, and
// last-activity timestamps for idle eviction.
package session

import (
	"sync"
	"time"

	"github.com/viant/mcpway/jsonrpc"
)

// State is the session lifecycle.
type State int

const (
	Created State = iota
	Active
	Idle
	Closing
	Terminated
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Active:
		return "active"
	case Idle:
		return "idle"
	case Closing:
		return "closing"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Overrides is the per-session override bag.
type Overrides struct {
	ExtraCliArgs []string
	Env          map[string]string
	Headers      map[string]string
}

// Clone returns a deep-enough copy safe to hand to a reader while the bag is
// replaced underneath it: reads of overrides while forwarding a frame
// snapshot the bag.
func (o Overrides) Clone() Overrides {
	clone := Overrides{ExtraCliArgs: append([]string(nil), o.ExtraCliArgs...)}
	if o.Env != nil {
		clone.Env = make(map[string]string, len(o.Env))
		for k, v := range o.Env {
			clone.Env[k] = v
		}
	}
	if o.Headers != nil {
		clone.Headers = make(map[string]string, len(o.Headers))
		for k, v := range o.Headers {
			clone.Headers[k] = v
		}
	}
	return clone
}

// CorrelationTable is the subset of the bridge pump's correlation table a
// Session needs: the ability to fail every outstanding request with a
// terminal error (sweep eviction, explicit close). Defined here rather than
// imported from the bridge package to avoid a session<->bridge import cycle;
// the bridge package's Table type implements it.
type CorrelationTable interface {
	CancelAll(err *jsonrpc.Error) int
}

// ChildHandle is the subset of a supervisor.Handle a Session needs to know
// about without importing the supervisor package: whether restarts are
// session-scoped (dedicated child per session) or shared with other
// sessions (a single upstream child multiplexed across clients).
type ChildHandle interface {
	IsSessionScoped() bool
}

// Session is one logical MCP conversation.
type Session struct {
	ID              string
	ProtocolVersion string
	CreatedAt       time.Time
	Stateless       bool // true for per-request Streamable-HTTP sessions

	mu           sync.RWMutex
	lastActivity time.Time
	state        State
	overrides    Overrides
	correlations CorrelationTable
	child        ChildHandle
}

// New constructs a Session in the Created state.
func New(id, protocolVersion string) *Session {
	now := time.Now()
	return &Session{
		ID:              id,
		ProtocolVersion: protocolVersion,
		CreatedAt:       now,
		lastActivity:    now,
		state:           Created,
	}
}

// BindCorrelations attaches the pump's correlation table, called once by the
// bridge when it starts pumping this session.
func (s *Session) BindCorrelations(t CorrelationTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlations = t
}

// BindChild attaches the upstream child handle reference, when one exists.
func (s *Session) BindChild(h ChildHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.child = h
}

// IsChildSessionScoped reports whether this session owns a dedicated child
// (so ApplyOverrides may request a restart) versus sharing one process-wide
// child across sessions, where restart requests are rejected: restarting a
// shared child would disrupt every other session multiplexed over it.
func (s *Session) IsChildSessionScoped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.child == nil {
		return false
	}
	return s.child.IsSessionScoped()
}

// Touch updates last-activity; called on every inbound or outbound frame.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
	if s.state == Created {
		s.state = Active
	} else if s.state == Idle {
		s.state = Active
	}
}

// IdleSince reports how long the session has been without traffic.
func (s *Session) IdleSince() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActivity)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Overrides returns a snapshot of the current override bag.
func (s *Session) Overrides() Overrides {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overrides.Clone()
}

// terminate transitions to Terminated and cancels every outstanding request
// with the given error, returning how many were cancelled.
func (s *Session) terminate(err *jsonrpc.Error) int {
	s.mu.Lock()
	correlations := s.correlations
	s.state = Terminated
	s.mu.Unlock()
	if correlations == nil {
		return 0
	}
	return correlations.CancelAll(err)
}
