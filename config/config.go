// Package config carries every tunable the core needs, frozen into a single
// Config struct the external CLI front-end or a test populates directly.
// The core never parses flags or env files itself, except for the handful
// of environment variables it consumes directly, which FromEnv reads.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/viant/mcpway/fault"
)

// Transport tags the wire form a side of the bridge speaks. For the network
// transports the server or client role follows from the side (Input or
// Output), which together with these five tags covers the eight adapters.
type Transport string

const (
	TransportStdioChild      Transport = "stdio"
	TransportStdioParent     Transport = "stdioParent"
	TransportSSE             Transport = "sse"
	TransportWS              Transport = "ws"
	TransportStreamableHTTP  Transport = "streamableHttp"
)

// Side is one half of the bridge: either the input (client-facing) or the
// output (upstream-facing) transport.
type Side struct {
	Transport Transport

	// stdio-child only.
	Command   string
	Args      []string
	Env       map[string]string
	Cwd       string

	// network transports (server or client role inferred from Transport +
	// whether this is the Input or Output side).
	URL  string // client role: dial target
	Addr string // server role: listen address, e.g. ":8000"

	Headers map[string]string
	BearerToken string // static bearer token; a refreshing supplier is wired by the caller via reliability.Endpoint
}

// CORS configures the optional cross-origin surface.
type CORS struct {
	Enabled      bool
	AllowOrigins []string // exact strings, or "/regex/" syntax
}

// Paths carries the HTTP surface paths and their defaults.
type Paths struct {
	SSEPath             string // default /sse
	MessagePath         string // default /message
	StreamableHTTPPath  string // default /mcp
	HealthPath          string // optional; empty disables the health endpoint
}

func (p Paths) normalized() Paths {
	if p.SSEPath == "" {
		p.SSEPath = "/sse"
	}
	if p.MessagePath == "" {
		p.MessagePath = "/message"
	}
	if p.StreamableHTTPPath == "" {
		p.StreamableHTTPPath = "/mcp"
	}
	return p
}

// Config is the frozen set of tunables for one gateway instance; there is
// no global mutable config.
type Config struct {
	Input  Side
	Output Side
	Paths  Paths
	CORS   CORS

	// BaseURL, when set, is the externally visible origin (e.g.
	// https://gw.example.com) prepended to the SSE endpoint event's POST
	// target, so clients behind a reverse proxy are told an absolute URL
	// instead of a path relative to whatever origin they happened to dial.
	// Empty advertises a relative path.
	BaseURL string

	// Session manager.
	Stateful        bool
	SessionTimeout  time.Duration // default 60_000ms when Stateful
	ProtocolVersion string        // non-empty enables auto-initialize upstream

	// Bridge pump.
	RewriteIDs bool

	// Reliability layer.
	RetryAttempts      int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	CircuitFailureThreshold int
	CircuitCooldown    time.Duration

	// Child supervisor.
	GraceShutdown time.Duration

	// Telemetry.
	OTLPEndpoint       string
	OTLPTracesEndpoint string
	OTLPLogsEndpoint   string

	// LogURL, when set, routes process logs to a file sink at this afs URL
	// (e.g. file:///var/log/mcpway.log) instead of stderr. Either way logs
	// stay off stdout, which belongs to the protocol in stdio-parent mode.
	LogURL string

	// Port is the fallback listen port when Input.Addr does not name one
	// explicitly; the CLI front-end resolves precedence, this field is just
	// the raw value.
	Port int
}

// Validate checks the flag-combination invariants a misconfigured Config
// would otherwise fail on deep inside the bridge: configuration errors
// fail fast at startup with non-zero exit.
func (c *Config) Validate() error {
	if c.Input.Transport == "" {
		return fault.Wrapf(fault.Configuration, "config: input transport is required")
	}
	if c.Output.Transport == "" {
		return fault.Wrapf(fault.Configuration, "config: output transport is required")
	}
	if c.Input.Transport == TransportStdioChild && c.Input.Command == "" {
		return fault.Wrapf(fault.Configuration, "config: stdio input requires a command")
	}
	if c.Output.Transport == TransportStdioChild && c.Output.Command == "" {
		return fault.Wrapf(fault.Configuration, "config: stdio output requires a command")
	}
	if requiresURL(c.Output.Transport) && c.Output.URL == "" {
		return fault.Wrapf(fault.Configuration, "config: %s output requires a url", c.Output.Transport)
	}
	if requiresURL(c.Input.Transport) && c.Input.Transport != TransportStdioParent && c.Input.URL == "" && c.Input.Addr == "" && c.Port == 0 {
		return fault.Wrapf(fault.Configuration, "config: %s input requires an addr or port to listen on", c.Input.Transport)
	}
	return nil
}

func requiresURL(t Transport) bool {
	switch t {
	case TransportSSE, TransportWS, TransportStreamableHTTP:
		return true
	default:
		return false
	}
}

// Normalized returns a copy with every default applied: idle timeout, HTTP
// paths, retry/breaker policy, grace period.
func (c Config) Normalized() Config {
	c.Paths = c.Paths.normalized()
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 60 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
	if c.CircuitFailureThreshold <= 0 {
		c.CircuitFailureThreshold = 5
	}
	if c.CircuitCooldown <= 0 {
		c.CircuitCooldown = time.Second
	}
	if c.GraceShutdown <= 0 {
		c.GraceShutdown = 5 * time.Second
	}
	return c
}

// FromEnv overlays the environment variables the core consumes directly
// onto an existing Config: PORT (fallback when --port unset),
// OTEL_EXPORTER_OTLP_ENDPOINT / _TRACES_ENDPOINT / _LOGS_ENDPOINT. It never
// reads any other environment variable or flag; those belong to the
// out-of-scope CLI front-end.
func FromEnv(base Config) Config {
	if base.Port == 0 {
		if raw := os.Getenv("PORT"); raw != "" {
			if port, err := strconv.Atoi(raw); err == nil {
				base.Port = port
			}
		}
	}
	if base.OTLPEndpoint == "" {
		base.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if base.OTLPTracesEndpoint == "" {
		base.OTLPTracesEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
	}
	if base.OTLPLogsEndpoint == "" {
		base.OTLPLogsEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")
	}
	return base
}
