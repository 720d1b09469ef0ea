package ws

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// Server upgrades incoming HTTP requests at a single endpoint (default
// /message) to WS connections and hands each one to Accept as a
// transport.MessageChannel.
type Server struct {
	upgrader websocket.Upgrader
	sink     telemetry.Sink
	desc     transport.Descriptor
	// Accept receives every newly upgraded connection. The caller (gateway
	// wiring) is expected to pump it against the configured output adapter;
	// Server itself has no opinion about session binding.
	Accept func(*Channel)
}

// NewServer constructs a Server. checkOrigin defaults to allowing any
// origin unless the caller supplies a stricter check.
func NewServer(desc transport.Descriptor, sink telemetry.Sink, checkOrigin func(*http.Request) bool, accept func(*Channel)) *Server {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: checkOrigin},
		sink:     sink,
		desc:     desc,
		Accept:   accept,
	}
}

// ServeHTTP upgrades the request and starts pumping the resulting channel.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warn(r.Context(), s.sink, "ws.server", "upgrade failed", map[string]any{"err": err.Error()})
		return
	}
	ch := newChannel(conn, s.desc, s.sink)
	if s.Accept != nil {
		s.Accept(ch)
	}
}
