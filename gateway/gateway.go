// Package gateway composes any supported input transport with any supported
// output transport: it owns the session manager, the reliability endpoint
// for network upstreams, the shared child supervisor for a stdio upstream,
// and the HTTP surfaces. The admin HTTP API and CLI front-end live outside
// this module and are expected to drive a Gateway, not reimplement its
// wiring.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/viant/mcpway/bridge"
	"github.com/viant/mcpway/config"
	"github.com/viant/mcpway/fault"
	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/reliability"
	"github.com/viant/mcpway/session"
	"github.com/viant/mcpway/supervisor"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
	"github.com/viant/mcpway/transport/sse"
	"github.com/viant/mcpway/transport/stdiochild"
	"github.com/viant/mcpway/transport/streamablehttp"
	"github.com/viant/mcpway/transport/ws"
)

// Gateway is one running bridge instance: a single (input-transport,
// output-transport) pairing, fanned out across however many logical
// sessions that pairing allows (one for stdio-parent, arbitrarily many for
// the server-rooted input transports).
type Gateway struct {
	cfg     config.Config
	sink    telemetry.Sink
	// fileSink is non-nil only when New opened the configured file log
	// sink itself; Shutdown owns its Close.
	fileSink *telemetry.FileSink
	metrics  *telemetry.Metrics
	// metricsShutdown flushes the OTLP meter provider on the way out;
	// nil when metrics run on the no-op provider.
	metricsShutdown func(context.Context) error

	sessions *session.Manager
	initCache *session.InitializeCache

	// outputSupervisor is non-nil only when Output.Transport is
	// stdio-child; it owns the single shared child handle every session's
	// stdiochild.Adapter subscribes to.
	outputSupervisor *supervisor.Supervisor
	// outputEndpoint is non-nil only when Output.Transport is a network
	// transport; it carries the retry policy, breaker, and bearer-token
	// supplier every dial goes through.
	outputEndpoint *reliability.Endpoint

	httpServer *http.Server

	mu     sync.Mutex
	pumps  map[string]*bridge.Pump // session id -> active pump, for admin snapshots
}

// New validates and normalizes cfg, builds the session manager and metrics,
// and, for a stdio-child output, spawns the shared upstream child so it is
// already running before the first session attaches. Network outputs are
// dialed lazily, once per session, inside Serve.
func New(ctx context.Context, cfg config.Config, sink telemetry.Sink) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Normalized()
	var ownedSink *telemetry.FileSink
	if sink == nil {
		if cfg.LogURL != "" {
			fileSink, err := telemetry.NewFileSink(ctx, cfg.LogURL)
			if err != nil {
				return nil, err
			}
			sink = fileSink
			ownedSink = fileSink
		} else {
			sink = telemetry.StdSink{}
		}
	}
	provider, metricsShutdown, err := telemetry.NewMeterProvider(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fault.Wrap(fault.Configuration, err)
	}
	metrics, err := telemetry.NewMetrics(provider)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:      cfg,
		sink:     sink,
		fileSink: ownedSink,
		metrics:  metrics,
		sessions: session.NewManager(session.ManagerOptions{
			IdleTimeout: cfg.SessionTimeout,
			Stateful:    cfg.Stateful,
			Sink:        sink,
			Metrics:     metrics,
		}),
		initCache: session.NewInitializeCache(cfg.ProtocolVersion),
		pumps:     make(map[string]*bridge.Pump),
	}
	g.metricsShutdown = metricsShutdown

	if cfg.Output.Transport == config.TransportStdioChild {
		sup := supervisor.New(supervisor.Spec{
			Command:       cfg.Output.Command,
			ExtraArgs:     cfg.Output.Args,
			Env:           cfg.Output.Env,
			Cwd:           cfg.Output.Cwd,
			SessionScoped: false,
		}, supervisor.Options{
			Label:         "output",
			Sink:          sink,
			Metrics:       metrics,
			GraceShutdown: cfg.GraceShutdown,
		})
		if _, err := sup.Spawn(ctx); err != nil {
			return nil, fault.Wrap(fault.Upstream, fmt.Errorf("gateway: spawn upstream child: %w", err))
		}
		g.outputSupervisor = sup
	}

	if requiresEndpoint(cfg.Output.Transport) {
		var supplier oauth2.TokenSource
		if cfg.Output.BearerToken != "" {
			supplier = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Output.BearerToken})
		}
		endpoint, err := reliability.NewEndpoint(
			cfg.Output.URL,
			cfg.Output.Headers,
			supplier,
			reliability.RetryPolicy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay},
			reliability.BreakerPolicy{FailureThreshold: cfg.CircuitFailureThreshold, CooldownMs: int(cfg.CircuitCooldown / time.Millisecond)},
		)
		if err != nil {
			return nil, err
		}
		g.outputEndpoint = endpoint
	}

	return g, nil
}

func requiresEndpoint(t config.Transport) bool {
	switch t {
	case config.TransportSSE, config.TransportWS, config.TransportStreamableHTTP:
		return true
	default:
		return false
	}
}

// openOutput dials or attaches a fresh output MessageChannel for one logical
// session. For stdio-child this subscribes
// to the shared supervisor handle; every other transport dials fresh.
func (g *Gateway) openOutput(ctx context.Context, label string) (transport.MessageChannel, error) {
	desc := transport.DefaultDescriptor(label)
	switch g.cfg.Output.Transport {
	case config.TransportStdioChild:
		return stdiochild.New(g.outputSupervisor.Current(), desc, g.sink), nil
	case config.TransportSSE:
		var ch *sse.Client
		err := g.outputEndpoint.Breaker.Guard(ctx, g.outputEndpoint.RetryPolicy, func(ctx context.Context) error {
			c, dialErr := sse.Dial(ctx, g.outputEndpoint.URL, httpClientFor(g.outputEndpoint), desc, g.sink)
			if dialErr != nil {
				return dialErr
			}
			ch = c
			return nil
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	case config.TransportWS:
		var ch *ws.Channel
		err := g.outputEndpoint.Breaker.Guard(ctx, g.outputEndpoint.RetryPolicy, func(ctx context.Context) error {
			c, dialErr := ws.Dial(ctx, g.outputEndpoint.URL, headersFor(g.cfg.Output.Headers), desc, g.sink)
			if dialErr != nil {
				return dialErr
			}
			ch = c
			return nil
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	case config.TransportStreamableHTTP:
		return streamablehttp.New(g.outputEndpoint.URL, httpClientFor(g.outputEndpoint), desc, g.sink), nil
	default:
		return nil, fmt.Errorf("gateway: unsupported output transport %q", g.cfg.Output.Transport)
	}
}

func httpClientFor(*reliability.Endpoint) *http.Client { return http.DefaultClient }

func headersFor(m map[string]string) http.Header {
	h := http.Header{}
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// autoInitialize synthesizes an initialize request upstream and
// consumes the response into the shared InitializeCache, once, the first
// time an output channel for this configuration comes up.
func (g *Gateway) autoInitialize(ctx context.Context, out transport.MessageChannel) error {
	if !g.initCache.Enabled() || g.initCache.Ready() {
		return nil
	}
	req, err := jsonrpc.NewRequest(jsonrpc.NewIntID(0), "initialize", map[string]any{
		"protocolVersion": g.initCache.ConfiguredProtocolVersion(),
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcpway", "version": "0.1"},
	})
	if err != nil {
		return err
	}
	if err := out.Send(ctx, req); err != nil {
		return fmt.Errorf("gateway: auto-initialize: %w", err)
	}
	for {
		select {
		case item, ok := <-out.Inbound():
			if !ok {
				return fmt.Errorf("gateway: auto-initialize: output closed before responding")
			}
			if item.Frame != nil && item.Frame.Kind == jsonrpc.KindResponse && item.Frame.Id.String() == "0" {
				if item.Frame.Error != nil {
					return fmt.Errorf("gateway: auto-initialize: upstream error %d %s", item.Frame.Error.Code, item.Frame.Error.Message)
				}
				g.initCache.Capture(item.Frame.Result)
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// interceptInitialize satisfies a client initialize from the cached
// auto-initialize handshake instead of re-initializing upstream: later
// client initializes are satisfied from the cached capabilities.
func (g *Gateway) interceptInitialize(f *jsonrpc.Frame) (*jsonrpc.Frame, bool) {
	if f.Method != "initialize" {
		return nil, false
	}
	result, ok := g.initCache.Satisfy()
	if !ok {
		return nil, false
	}
	resp, err := jsonrpc.NewResultResponse(f.Id, result)
	if err != nil {
		return nil, false
	}
	return resp, true
}

// runPump starts a bridge pump for sess and tracks it for admin snapshots
// until it exits, at which point the session is terminated.
func (g *Gateway) runPump(ctx context.Context, sess *session.Session, in, out transport.MessageChannel) {
	p := bridge.New(in, out, bridge.Options{
		Label:      sess.ID,
		RewriteIDs: g.cfg.RewriteIDs,
		Sink:       g.sink,
		Metrics:    g.metrics,
		OnTouch:    sess.Touch,
		Intercept:  g.interceptInitialize,
	})
	sess.BindCorrelations(p.DownstreamTable())

	if !sess.Stateless {
		g.mu.Lock()
		g.pumps[sess.ID] = p
		g.mu.Unlock()
	}

	err := p.Run(ctx)
	if err != nil {
		telemetry.Warn(ctx, g.sink, "gateway", "pump exited", map[string]any{"session_id": sess.ID, "err": err.Error()})
	}

	g.mu.Lock()
	delete(g.pumps, sess.ID)
	g.mu.Unlock()
	if !sess.Stateless {
		g.sessions.Terminate(ctx, sess, jsonrpc.NewChannelClosed("channel closed"))
	}
	_ = in.Close(err)
	_ = out.Close(err)
}

// Shutdown drains cooperatively: stop accepting new sessions, let
// pumps finish, then force-close whatever remains once grace elapses.
func (g *Gateway) Shutdown(ctx context.Context) error {
	grace := g.cfg.GraceShutdown
	if grace <= 0 {
		grace = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	var httpErr error
	if g.httpServer != nil {
		httpErr = g.httpServer.Shutdown(shutdownCtx)
		if httpErr != nil {
			// Grace elapsed with connections still open (long-lived
			// SSE/GET streams): force-close them.
			_ = g.httpServer.Close()
		}
	}
	if g.outputSupervisor != nil {
		_ = g.outputSupervisor.Shutdown(shutdownCtx)
	}
	if g.metricsShutdown != nil {
		_ = g.metricsShutdown(shutdownCtx)
	}
	if g.fileSink != nil {
		_ = g.fileSink.Close()
	}
	return httpErr
}

// Hostname reports the machine's host name, or "unknown" when it cannot be
// determined, so admin tooling can report it without importing os itself.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
