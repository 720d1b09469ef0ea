// Package supervisor manages stdio MCP server subprocesses: spawn with
// the inherited environment merged with per-spec overrides, line-buffered pipes, crash detection,
// restart-on-config-change, and graceful drain on shutdown.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/viant/mcpway/telemetry"
)

// Spec is the spawn configuration for one logical upstream child.
type Spec struct {
	Command       string
	ExtraArgs     []string
	Env           map[string]string
	Cwd           string
	SessionScoped bool // dedicated child per session vs. shared across sessions
}

// Options configures a Supervisor.
type Options struct {
	Label         string
	Sink          telemetry.Sink
	Metrics       *telemetry.Metrics
	GraceShutdown time.Duration // SIGTERM→SIGKILL grace period, default 5s
	OnCrash       func(exit ExitStatus)
}

func (o Options) normalized() Options {
	if o.GraceShutdown <= 0 {
		o.GraceShutdown = 5 * time.Second
	}
	if o.Label == "" {
		o.Label = "child"
	}
	return o
}

// Supervisor owns a single logical upstream stdio child across restarts. At
// most one Handle is active at a time; the Supervisor is the
// single writer of that Handle.
type Supervisor struct {
	mu      sync.Mutex
	spec    Spec
	opts    Options
	current *Handle
	epoch   uint64
	closed  bool
}

// New creates a Supervisor. Spawn must be called before use.
func New(spec Spec, opts Options) *Supervisor {
	return &Supervisor{spec: spec, opts: opts.normalized()}
}

// Current returns the active handle, or nil before the first Spawn.
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Spawn starts the configured command for the first time.
func (s *Supervisor) Spawn(ctx context.Context) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, fmt.Errorf("supervisor: %s already spawned", s.opts.Label)
	}
	h, err := s.spawnLocked(ctx, s.spec)
	if err != nil {
		return nil, err
	}
	s.current = h
	return h, nil
}

// Restart replaces the current child: SIGTERM, wait up to GraceShutdown,
// SIGKILL, then spawn fresh with the merged spec. Frames in flight against
// the old handle should be failed by the caller with -32003 "upstream
// restarted" once Restart returns.
func (s *Supervisor) Restart(ctx context.Context, newSpec Spec) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.terminateLocked(s.current)
	}
	s.spec = newSpec
	h, err := s.spawnLocked(ctx, newSpec)
	if err != nil {
		return nil, err
	}
	s.current = h
	s.opts.Metrics.ChildRestarted(ctx, s.opts.Label)
	telemetry.Info(ctx, s.opts.Sink, "supervisor", "child restarted", map[string]any{
		"label": s.opts.Label, "epoch": h.StartEpoch,
	})
	return h, nil
}

// Shutdown drains the current child gracefully: SIGTERM, wait up to
// GraceShutdown, then SIGKILL.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.current != nil {
		s.terminateLocked(s.current)
		s.current = nil
	}
	return nil
}

func (s *Supervisor) terminateLocked(h *Handle) {
	proc, _ := os.FindProcess(h.Pid)
	if proc == nil {
		_ = h.Close()
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
	select {
	case <-h.Done:
	case <-time.After(s.opts.GraceShutdown):
		_ = proc.Signal(syscall.SIGKILL)
		<-h.Done
	}
	_ = h.Close()
}

func (s *Supervisor) spawnLocked(ctx context.Context, spec Spec) (*Handle, error) {
	argv, err := TokenizeCommand(spec.Command)
	if err != nil {
		return nil, err
	}
	argv = append(argv, spec.ExtraArgs...)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Cwd
	cmd.Env = MergeEnv(os.Environ(), spec.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: spawn %q: %w", spec.Command, err)
	}

	s.epoch++
	epoch := s.epoch

	stdoutCh := make(chan Line, 64)
	stderrCh := make(chan Line, 64)
	done := make(chan ExitStatus, 1)
	bcast := newBroadcaster(64)

	go scanLines(stdout, stdoutCh, bcast, s.opts.Sink, s.opts.Label)
	go scanLines(stderr, stderrCh, nil, s.opts.Sink, s.opts.Label+".stderr")
	go func() {
		err := cmd.Wait()
		code := 0
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		status := ExitStatus{Code: code, Err: err, AtEpoch: epoch}
		done <- status
		close(done)
		bcast.closeAll()
		if s.opts.OnCrash != nil && code != 0 {
			s.opts.OnCrash(status)
		}
	}()

	h := &Handle{
		Pid:        cmd.Process.Pid,
		Stdin:      stdin,
		Stdout:     stdoutCh,
		Stderr:     stderrCh,
		Done:       done,
		Env:        cmd.Env,
		Cmdline:    argv,
		StartEpoch: epoch,
		StartTime:  time.Now(),
		SessionScoped: spec.SessionScoped,
		broadcast:  bcast,
		closeFn: func() error {
			_ = stdin.(io.Closer).Close()
			return nil
		},
	}
	return h, nil
}

// telemetryLagSink warns through telemetry each time a lagging stdout
// subscriber loses its oldest buffered line.
type telemetryLagSink struct {
	sink  telemetry.Sink
	label string
}

func (l telemetryLagSink) lagged() {
	telemetry.Warn(context.Background(), l.sink, l.label, "stdout subscriber lagged, oldest line dropped", map[string]any{"dropped": 1})
}

func scanLines(r io.Reader, out chan Line, bcast *broadcaster, sink telemetry.Sink, label string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := Line{Text: scanner.Text()}
		// The Handle's plain channel is a convenience tap; subscribers get
		// every line through the broadcaster. An unread tap must not stall
		// the child's pipe drain, so drop its oldest entry when full.
		select {
		case out <- line:
		default:
			select {
			case <-out:
			default:
			}
			select {
			case out <- line:
			default:
			}
		}
		if bcast != nil {
			bcast.publish(telemetryLagSink{sink: sink, label: label}, line)
		} else {
			// stderr is forwarded to telemetry, never interleaved onto
			// stdout.
			telemetry.Debug(context.Background(), sink, label, line.Text, nil)
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case out <- Line{Err: err}:
		default:
		}
	}
}
