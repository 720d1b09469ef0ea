package reliability

import (
	"context"
	"sync"
	"time"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
)

// State is the circuit-breaker state machine.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerPolicy configures the breaker.
type BreakerPolicy struct {
	FailureThreshold int
	CooldownMs       int
}

// DefaultBreakerPolicy is the stock policy: five consecutive failures
// open the circuit for one second.
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{FailureThreshold: 5, CooldownMs: 1000}
}

// Breaker is an endpoint-scoped circuit breaker. No request is dispatched
// through an Open breaker except the single probe emitted on the
// Open→Half-open transition.
type Breaker struct {
	mu         sync.Mutex
	policy     BreakerPolicy
	endpoint   string
	state      State
	failures   int
	openUntil  time.Time
	probeInFlight bool
	sink       telemetry.Sink
	metrics    *telemetry.Metrics
}

// NewBreaker constructs a Breaker for one endpoint label.
func NewBreaker(endpoint string, policy BreakerPolicy, sink telemetry.Sink, metrics *telemetry.Metrics) *Breaker {
	return &Breaker{endpoint: endpoint, policy: policy, sink: sink, metrics: metrics}
}

// Allow reports whether a new dispatch may proceed. It returns
// jsonrpc.NewCircuitOpen when the breaker is Open and the cooldown has not
// elapsed, or when a Half-open probe is already in flight (only one probe at
// a time). A nil error admits the dispatch; probe additionally reports that
// this admission IS the single Half-open probe (this call performed the
// Open→HalfOpen transition, or was admitted under HalfOpen), so the caller
// can suppress retries for it. The caller must call Success or Failure
// exactly once per admission.
func (b *Breaker) Allow(ctx context.Context) (probe bool, rpcErr *jsonrpc.Error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil
	case Open:
		if time.Now().Before(b.openUntil) {
			return false, jsonrpc.NewCircuitOpen("circuit open for endpoint " + b.endpoint)
		}
		b.state = HalfOpen
		b.probeInFlight = true
		telemetry.Info(ctx, b.sink, "reliability", "circuit half-open probe", map[string]any{"endpoint": b.endpoint})
		return true, nil
	case HalfOpen:
		if b.probeInFlight {
			return false, jsonrpc.NewCircuitOpen("circuit half-open, probe in flight for endpoint " + b.endpoint)
		}
		b.probeInFlight = true
		return true, nil
	}
	return false, nil
}

// Success records a successful dispatch: Closed stays Closed with the
// failure counter reset; Half-open's probe succeeding closes the breaker.
func (b *Breaker) Success(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probeInFlight = false
	b.state = Closed
}

// Failure records a failed dispatch. From Closed, failures accumulate until
// FailureThreshold trips Open. From Half-open, the failed probe reopens the
// breaker with a fresh cooldown.
func (b *Breaker) Failure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
	switch b.state {
	case HalfOpen:
		b.open(ctx)
	case Closed:
		b.failures++
		if b.policy.FailureThreshold > 0 && b.failures >= b.policy.FailureThreshold {
			b.open(ctx)
		}
	}
}

func (b *Breaker) open(ctx context.Context) {
	b.state = Open
	b.failures = 0
	cooldown := time.Duration(b.policy.CooldownMs) * time.Millisecond
	b.openUntil = time.Now().Add(cooldown)
	b.metrics.BreakerOpen(ctx, b.endpoint)
	telemetry.Warn(ctx, b.sink, "reliability", "circuit opened", map[string]any{
		"endpoint": b.endpoint, "cooldown_ms": b.policy.CooldownMs,
	})
}

// State reports the current breaker state (used by the admin view and tests).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Guard composes Allow/Success/Failure around operation, and layers retry on
// top when retryPolicy.Attempts > 0. A circuit-open rejection is surfaced
// immediately without a network attempt and is never itself retried. When
// Allow admits the single Half-open probe, retries are suppressed for that
// call so exactly one dispatch reaches the endpoint before the probe's
// outcome is recorded.
func (b *Breaker) Guard(ctx context.Context, retryPolicy RetryPolicy, operation func(ctx context.Context) error) error {
	probe, rpcErr := b.Allow(ctx)
	if rpcErr != nil {
		return rpcErr
	}
	effective := retryPolicy
	if probe {
		effective = RetryPolicy{Attempts: 0, BaseDelay: retryPolicy.BaseDelay, MaxDelay: retryPolicy.MaxDelay}
	}
	err := Run(ctx, effective, func(ctx context.Context, attempt int) error {
		return operation(ctx)
	})
	if err != nil {
		b.Failure(ctx)
		return err
	}
	b.Success(ctx)
	return nil
}
