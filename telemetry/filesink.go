package telemetry

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
)

// FileSink appends leveled events as lines to the configured file sink.
// The destination is an afs URL, so file:///var/log/mcpway.log and the
// mem:// scheme used by tests both work. In stdio-parent mode this is where
// logs go instead of stdout.
type FileSink struct {
	mu sync.Mutex
	w  io.WriteCloser

	// MinLevel drops events below it; defaults to LevelDebug (keep all).
	MinLevel Level
}

// NewFileSink opens (or creates) the log destination at URL.
func NewFileSink(ctx context.Context, URL string) (*FileSink, error) {
	fs := afs.New()
	w, err := fs.NewWriter(ctx, URL, 0644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open log sink %v: %w", URL, err)
	}
	return &FileSink{w: w}, nil
}

func (s *FileSink) Log(_ context.Context, level Level, component, msg string, fields map[string]any) {
	if level < s.MinLevel {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, " [%s] %s: %s", level, component, msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteByte('\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write([]byte(b.String()))
}

// Close flushes and releases the underlying writer.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
