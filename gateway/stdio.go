package gateway

import (
	"context"
	"os"

	"github.com/viant/mcpway/transport"
	"github.com/viant/mcpway/transport/stdioparent"
)

// ServeStdioParent runs the gateway with the process's own stdin/stdout as
// the client-facing transport: exactly one implicit session for the
// lifetime of the process. It blocks until stdin reaches EOF, the output
// channel fails, or ctx is cancelled.
func (g *Gateway) ServeStdioParent(ctx context.Context) error {
	in := stdioparent.New(os.Stdin, os.Stdout, transport.DefaultDescriptor("stdio-parent"), g.sink)

	sess, err := g.sessions.BeginOrAttach(ctx, "", g.cfg.ProtocolVersion)
	if err != nil {
		return err
	}

	out, err := g.openOutput(ctx, "output")
	if err != nil {
		return err
	}
	if err := g.autoInitialize(ctx, out); err != nil {
		return err
	}

	g.runPump(ctx, sess, in, out)
	return nil
}
