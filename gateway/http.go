package gateway

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/viant/mcpway/config"
	"github.com/viant/mcpway/fault"
	"github.com/viant/mcpway/session"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
	"github.com/viant/mcpway/transport/sse"
	"github.com/viant/mcpway/transport/streamablehttp"
	"github.com/viant/mcpway/transport/ws"
)

// Serve dispatches on the configured input transport and runs until ctx is
// cancelled. For stdio-parent it drives the single implicit session
// in-process; for every other input transport it starts an HTTP server and
// blocks until it stops (Shutdown or ListenAndServe's own terminal error).
func (g *Gateway) Serve(ctx context.Context) error {
	switch g.cfg.Input.Transport {
	case config.TransportStdioParent:
		return g.ServeStdioParent(ctx)
	case config.TransportSSE:
		return g.serveHTTP(ctx, g.buildSSEMux())
	case config.TransportWS:
		return g.serveHTTP(ctx, g.buildWSMux())
	case config.TransportStreamableHTTP:
		return g.serveHTTP(ctx, g.buildStreamableHTTPMux())
	default:
		return fmt.Errorf("gateway: unsupported input transport %q", g.cfg.Input.Transport)
	}
}

func (g *Gateway) serveHTTP(ctx context.Context, mux *http.ServeMux) error {
	addr := g.cfg.Input.Addr
	if addr == "" && g.cfg.Port != 0 {
		addr = fmt.Sprintf(":%d", g.cfg.Port)
	}
	if addr == "" {
		return fault.Wrapf(fault.Configuration, "gateway: no listen address configured for input transport %q", g.cfg.Input.Transport)
	}
	g.httpServer = &http.Server{Addr: addr, Handler: g.withCORS(mux)}
	g.sessions.RunSweeper(ctx, 0)
	err := g.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return fault.Wrap(fault.Transport, err)
}

// withCORS applies the CORS allow-list by exact match or "/regex/"
// syntax, and the standard preflight response.
func (g *Gateway) withCORS(next http.Handler) http.Handler {
	if !g.cfg.CORS.Enabled {
		return g.withHealth(next)
	}
	return g.withHealth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && corsAllowed(g.cfg.CORS.AllowOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func corsAllowed(allow []string, origin string) bool {
	for _, pattern := range allow {
		if strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") && len(pattern) > 1 {
			re, err := regexp.Compile(pattern[1 : len(pattern)-1])
			if err == nil && re.MatchString(origin) {
				return true
			}
			continue
		}
		if pattern == origin {
			return true
		}
	}
	return false
}

// withHealth serves the optional health endpoint at Paths.HealthPath before
// falling through to next.
func (g *Gateway) withHealth(next http.Handler) http.Handler {
	healthPath := g.cfg.Paths.HealthPath
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthPath != "" && r.URL.Path == healthPath {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sseEndpointData builds the data payload of the mandatory first SSE event:
// the companion POST target. With BaseURL configured the event advertises an
// absolute URL, so clients reaching the gateway through a reverse proxy POST
// to the externally visible origin rather than a path relative to whatever
// they dialed.
func (g *Gateway) sseEndpointData(sessionID string) string {
	path := fmt.Sprintf("%s?sessionId=%s", g.cfg.Paths.MessagePath, sessionID)
	if base := strings.TrimSuffix(g.cfg.BaseURL, "/"); base != "" {
		return base + path
	}
	return path
}

// buildSSEMux wires the SSE server surface.
func (g *Gateway) buildSSEMux() *http.ServeMux {
	registry := sse.NewRegistry(g.sink)
	mux := http.NewServeMux()
	mux.HandleFunc(g.cfg.Paths.MessagePath, registry.HandleMessage)
	mux.HandleFunc(g.cfg.Paths.SSEPath, func(w http.ResponseWriter, r *http.Request) {
		sess, err := g.sessions.BeginOrAttach(r.Context(), "", g.cfg.ProtocolVersion)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		ch, err := sse.NewServerChannel(sess.ID, w, transport.DefaultDescriptor(sess.ID))
		if err != nil {
			telemetry.Error(r.Context(), g.sink, "gateway.sse", "server channel setup failed", map[string]any{"err": err.Error()})
			return
		}
		if err := ch.WriteEndpointEvent(g.sseEndpointData(sess.ID)); err != nil {
			return
		}
		registry.Register(ch)
		defer registry.Unregister(sess.ID)

		out, err := g.openOutput(r.Context(), sess.ID)
		if err != nil {
			telemetry.Error(r.Context(), g.sink, "gateway.sse", "output open failed", map[string]any{"err": err.Error()})
			_ = ch.Close(err)
			return
		}
		if err := g.autoInitialize(r.Context(), out); err != nil {
			telemetry.Error(r.Context(), g.sink, "gateway.sse", "auto-initialize failed", map[string]any{"err": err.Error()})
		}

		go g.runPump(r.Context(), sess, ch, out)
		_ = ch.Run(r.Context())
	})
	return mux
}

// buildWSMux wires the single WebSocket endpoint.
func (g *Gateway) buildWSMux() *http.ServeMux {
	mux := http.NewServeMux()
	wsServer := ws.NewServer(transport.DefaultDescriptor("ws-input"), g.sink, nil, func(ch *ws.Channel) {
		ctx := context.Background()
		sess, err := g.sessions.BeginOrAttach(ctx, "", g.cfg.ProtocolVersion)
		if err != nil {
			_ = ch.Close(err)
			return
		}
		out, err := g.openOutput(ctx, sess.ID)
		if err != nil {
			telemetry.Error(ctx, g.sink, "gateway.ws", "output open failed", map[string]any{"err": err.Error()})
			_ = ch.Close(err)
			return
		}
		if err := g.autoInitialize(ctx, out); err != nil {
			telemetry.Error(ctx, g.sink, "gateway.ws", "auto-initialize failed", map[string]any{"err": err.Error()})
		}
		g.runPump(ctx, sess, ch, out)
	})
	path := g.cfg.Paths.MessagePath
	if path == "" {
		path = "/message"
	}
	mux.Handle(path, wsServer)
	return mux
}

// buildStreamableHTTPMux wires the POST/GET hybrid surface. In stateful mode, an absent Mcp-Session-Id on POST is
// treated as a fresh initialize and allocates a session id echoed on the
// response header; a present-but-unknown id is a 404 that leaves server
// state untouched.
func (g *Gateway) buildStreamableHTTPMux() *http.ServeMux {
	registry := streamablehttp.NewRegistry(transport.DefaultDescriptor("streamablehttp-input"), g.sink)
	mux := http.NewServeMux()
	path := g.cfg.Paths.StreamableHTTPPath

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			g.handleStreamableHTTPPost(registry, w, r)
		case http.MethodGet:
			g.handleStreamableHTTPGet(registry, w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func (g *Gateway) handleStreamableHTTPPost(registry *streamablehttp.Registry, w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(streamablehttp.SessionHeader)

	if sid == "" {
		if g.cfg.Stateful {
			sess, err := g.sessions.BeginOrAttach(r.Context(), "", g.cfg.ProtocolVersion)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			ch := streamablehttp.NewServerChannel(sess.ID, true, transport.DefaultDescriptor(sess.ID))
			registry.Register(ch)
			out, err := g.openOutput(r.Context(), sess.ID)
			if err != nil {
				telemetry.Error(r.Context(), g.sink, "gateway.streamablehttp", "output open failed", map[string]any{"err": err.Error()})
				http.Error(w, "upstream unavailable", http.StatusBadGateway)
				return
			}
			if err := g.autoInitialize(r.Context(), out); err != nil {
				telemetry.Error(r.Context(), g.sink, "gateway.streamablehttp", "auto-initialize failed", map[string]any{"err": err.Error()})
			}
			go g.runPump(r.Context(), sess, ch, out)
			w.Header().Set(streamablehttp.SessionHeader, sess.ID)
			r.Header.Set(streamablehttp.SessionHeader, sess.ID)
			registry.HandlePost(w, r)
			return
		}
		g.handleStreamableHTTPStateless(w, r)
		return
	}

	if _, ok := g.sessions.Get(sid); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	registry.HandlePost(w, r)
}

// handleStreamableHTTPStateless builds an ephemeral session+channel pair
// that lives only for this one request/response pair; stateless sessions
// never outlive the POST that created them.
func (g *Gateway) handleStreamableHTTPStateless(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.New("", g.cfg.ProtocolVersion)
	sess.Stateless = true
	ch := streamablehttp.NewServerChannel(sess.ID, false, transport.DefaultDescriptor("stateless"))
	reg := streamablehttp.NewRegistry(transport.DefaultDescriptor("stateless"), g.sink)
	reg.Register(ch)

	out, err := g.openOutput(ctx, "stateless")
	if err != nil {
		telemetry.Error(ctx, g.sink, "gateway.streamablehttp", "output open failed", map[string]any{"err": err.Error()})
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	if err := g.autoInitialize(ctx, out); err != nil {
		telemetry.Error(ctx, g.sink, "gateway.streamablehttp", "auto-initialize failed", map[string]any{"err": err.Error()})
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	go g.runPump(pumpCtx, sess, ch, out)
	reg.HandlePost(w, r)
	cancel()
}

func (g *Gateway) handleStreamableHTTPGet(registry *streamablehttp.Registry, w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(streamablehttp.SessionHeader)
	if sid == "" {
		http.Error(w, "missing session id", http.StatusNotFound)
		return
	}
	if _, ok := g.sessions.Get(sid); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	registry.HandleGet(w, r)
}
