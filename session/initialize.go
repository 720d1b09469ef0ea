package session

import (
	"encoding/json"
	"sync"
)

// InitializeCache captures the result of an auto-initialize handshake the
// gateway performs against upstream when configured with an explicit
// protocol version. Later client initializes are satisfied from the cached
// capabilities without round-tripping upstream again.
type InitializeCache struct {
	mu              sync.RWMutex
	configured      string
	upstreamResult  json.RawMessage
	captured        bool
}

// NewInitializeCache records the protocol version the gateway was configured
// with (possibly empty, meaning no auto-initialize is performed).
func NewInitializeCache(configuredProtocolVersion string) *InitializeCache {
	return &InitializeCache{configured: configuredProtocolVersion}
}

// Capture stores the upstream's initialize result the first (and only)
// time auto-initialize runs.
func (c *InitializeCache) Capture(upstreamResult json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upstreamResult = upstreamResult
	c.captured = true
}

// Ready reports whether a cached result is available to satisfy a later
// client initialize.
func (c *InitializeCache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.captured
}

// Enabled reports whether auto-initialize is configured at all.
func (c *InitializeCache) Enabled() bool {
	return c.configured != ""
}

// ConfiguredProtocolVersion returns the version string to use when
// synthesizing the upstream initialize request.
func (c *InitializeCache) ConfiguredProtocolVersion() string {
	return c.configured
}

// Satisfy returns the cached capabilities with protocolVersion overwritten
// to the configured value rather than whatever upstream negotiated: a later
// client must see the version the gateway promised it would speak, even if
// upstream's own negotiated field differs.
func (c *InitializeCache) Satisfy() (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.captured {
		return nil, false
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(c.upstreamResult, &generic); err != nil {
		return c.upstreamResult, true
	}
	if c.configured != "" {
		versionRaw, _ := json.Marshal(c.configured)
		generic["protocolVersion"] = versionRaw
	}
	patched, err := json.Marshal(generic)
	if err != nil {
		return c.upstreamResult, true
	}
	return patched, true
}
