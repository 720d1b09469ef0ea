package gateway

import (
	"github.com/viant/mcpway/bridge"
	"github.com/viant/mcpway/reliability"
)

// SessionSnapshot is a read-only view of one active session, for the
// external admin HTTP API to render without reaching into the session
// manager's internals.
type SessionSnapshot struct {
	ID                 string
	State              string
	OutstandingEntries int
}

// AdminView is the control-plane contract the admin HTTP API is expected to
// implement against (that API lives outside this module; this is the
// interface it would consume). A Gateway satisfies it directly.
type AdminView interface {
	Sessions() []SessionSnapshot
	BreakerState() reliability.State
	SessionCount() int
}

// Sessions returns a snapshot of every pump currently running, keyed by
// session id, with its outstanding correlation-entry count: the same
// snapshot-copy discipline required of any reader outside the pump's
// owning goroutine.
func (g *Gateway) Sessions() []SessionSnapshot {
	g.mu.Lock()
	pumps := make(map[string]*bridge.Pump, len(g.pumps))
	for id, p := range g.pumps {
		pumps[id] = p
	}
	g.mu.Unlock()

	out := make([]SessionSnapshot, 0, len(pumps))
	for id, p := range pumps {
		out = append(out, SessionSnapshot{
			ID:                 id,
			OutstandingEntries: len(p.DownstreamTable().Snapshot()),
		})
	}
	return out
}

// BreakerState reports the output endpoint's circuit-breaker state, or
// Closed when the output transport has no endpoint (stdio-child has no
// breaker; there is nothing to short-circuit against a subprocess).
func (g *Gateway) BreakerState() reliability.State {
	if g.outputEndpoint == nil {
		return reliability.Closed
	}
	return g.outputEndpoint.Breaker.State()
}

// SessionCount delegates to the session manager.
func (g *Gateway) SessionCount() int {
	return g.sessions.Count()
}
