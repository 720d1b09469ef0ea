package bridge

import (
	"context"
	"time"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// forwardBatch processes batch elements strictly left to right. A
// Request earlier in the batch has its correlation entry registered before a
// later Response in the same batch is looked up, so ordering within the
// batch determines what each element can observe, exactly mirroring how the
// elements would be processed if they had arrived as separate frames one
// after another. The rewritten/restored batch preserves the original
// per-element order.
func (p *Pump) forwardBatch(ctx context.Context, dir Direction, f *jsonrpc.Frame, dst transport.MessageChannel, ownTable, peerTable *Table) error {
	out := &jsonrpc.Frame{Kind: jsonrpc.KindBatch, Batch: make([]*jsonrpc.Frame, 0, len(f.Batch))}
	for _, item := range f.Batch {
		switch item.Kind {
		case jsonrpc.KindRequest:
			_, cancel := context.WithCancel(ctx)
			rewritten := ownTable.Register(ctx, item.Id, item.Method, p.opts.RewriteIDs, time.Time{}, cancel)
			copyItem := *item
			copyItem.Id = rewritten
			out.Batch = append(out.Batch, &copyItem)
		case jsonrpc.KindNotification:
			copyItem := *item
			out.Batch = append(out.Batch, &copyItem)
		case jsonrpc.KindResponse:
			entry, ok := peerTable.Resolve(item.Id)
			if !ok {
				if p.opts.OnOrphan != nil {
					p.opts.OnOrphan(dir, item)
				}
				telemetry.Warn(ctx, p.opts.Sink, "bridge", "orphan response, no matching correlation entry", map[string]any{
					"label": p.opts.Label, "direction": dir, "id": item.Id.String(),
				})
				continue
			}
			copyItem := *item
			copyItem.Id = entry.InboundID
			out.Batch = append(out.Batch, &copyItem)
		}
	}
	if len(out.Batch) == 0 {
		return nil
	}
	return p.send(ctx, dst, out)
}
