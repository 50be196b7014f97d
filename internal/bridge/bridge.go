package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/trialmatch/internal/guard"
	"github.com/mattjoyce/trialmatch/internal/locator"
	"github.com/mattjoyce/trialmatch/internal/log"
	"github.com/mattjoyce/trialmatch/internal/protocol"
)

const (
	defaultTimeout = 30 * time.Second

	tracerName = "github.com/mattjoyce/trialmatch/internal/bridge"
)

// Notifier receives invocation lifecycle events. *events.Hub satisfies it.
type Notifier interface {
	Publish(eventType string, data any)
}

// Request is one invocation of the worker.
type Request struct {
	// Payload must be JSON-serializable.
	Payload any
	// CorrelationID ties logs, events and history together. Generated when empty.
	CorrelationID string
	// Timeout bounds queueing plus execution. Zero means the bridge default.
	Timeout time.Duration
}

// Result is a successful invocation.
type Result struct {
	CorrelationID string
	// Value is the decoded worker output.
	Value any
	// Raw is the worker output exactly as received.
	Raw json.RawMessage
	// Stderr is any diagnostic text the worker wrote despite succeeding.
	Stderr    string
	QueueWait time.Duration
	Duration  time.Duration
}

// Options configures a Bridge.
type Options struct {
	Timeout  time.Duration
	Notifier Notifier
	Logger   *slog.Logger
}

// Bridge is the single entry point for running the worker.
type Bridge struct {
	locator  locator.Locator
	launcher Launcher
	guard    *guard.Guard
	timeout  time.Duration
	notifier Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New builds a Bridge. loc may be nil when the launcher does not need a
// location (HTTPLauncher).
func New(loc locator.Locator, launcher Launcher, g *guard.Guard, opts Options) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.WithComponent("bridge")
	}
	return &Bridge{
		locator:  loc,
		launcher: launcher,
		guard:    g,
		timeout:  opts.Timeout,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// Guard exposes the concurrency guard for health reporting.
func (b *Bridge) Guard() *guard.Guard { return b.guard }

// invocation tracks one request through its lifecycle.
type invocation struct {
	id      string
	state   State
	created time.Time
	logger  *slog.Logger
}

func (inv *invocation) transition(to State) error {
	if !inv.state.CanTransition(to) {
		inv.logger.Error("invalid invocation transition", "from", inv.state.String(), "to", to.String())
		return fmt.Errorf("invalid transition %s -> %s", inv.state, to)
	}
	inv.logger.Debug("invocation transition", "from", inv.state.String(), "to", to.String())
	inv.state = to
	return nil
}

// Invoke runs the worker once with req.Payload and returns its decoded output.
// Every non-nil error is a *Error.
func (b *Bridge) Invoke(ctx context.Context, req Request) (*Result, error) {
	id := req.CorrelationID
	if id == "" {
		id = uuid.NewString()
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := b.tracer.Start(ctx, "bridge.invoke", trace.WithAttributes(
		attribute.String("correlation_id", id),
		attribute.Int64("timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	inv := &invocation{
		id:      id,
		state:   StateCreated,
		created: time.Now(),
		logger:  b.logger.With(slog.String("correlation_id", id)),
	}
	b.publish("invocation.started", map[string]any{"correlation_id": id})

	res, err := b.run(ctx, inv, req.Payload)
	elapsed := time.Since(inv.created)

	span.SetAttributes(attribute.String("state", inv.state.String()))
	if err != nil {
		berr := err.(*Error)
		berr.CorrelationID = id
		span.SetAttributes(attribute.String("error_kind", string(berr.Kind)))
		span.SetStatus(codes.Error, berr.Error())
		inv.logger.Warn("invocation failed",
			"state", inv.state.String(),
			"kind", string(berr.Kind),
			"exit_code", berr.ExitCode,
			"duration_ms", elapsed.Milliseconds(),
			"error", berr.Error(),
		)
		b.publish("invocation.completed", map[string]any{
			"correlation_id": id,
			"state":          inv.state.String(),
			"kind":           berr.Kind,
			"duration_ms":    elapsed.Milliseconds(),
		})
		return nil, berr
	}

	span.SetStatus(codes.Ok, "")
	res.CorrelationID = id
	res.Duration = elapsed
	inv.logger.Info("invocation succeeded", "duration_ms", elapsed.Milliseconds(), "queue_wait_ms", res.QueueWait.Milliseconds())
	b.publish("invocation.completed", map[string]any{
		"correlation_id": id,
		"state":          inv.state.String(),
		"duration_ms":    elapsed.Milliseconds(),
	})
	return res, nil
}

// run drives the state machine. It always returns a *Error on failure and
// leaves inv in a terminal state.
func (b *Bridge) run(ctx context.Context, inv *invocation, payload any) (*Result, error) {
	fail := func(e *Error) (*Result, error) {
		_ = inv.transition(e.Kind.TerminalState())
		return nil, e
	}

	encoded, err := protocol.EncodePayload(payload)
	if err != nil {
		return fail(newError(KindSpawn, err, "payload is not JSON-serializable"))
	}

	queued := time.Now()
	slot, err := b.guard.Acquire(ctx)
	if err != nil {
		e := deadlineError(err)
		e.Diagnostic += " while waiting for a worker slot"
		return fail(e)
	}
	defer slot.Release()
	queueWait := time.Since(queued)

	var loc locator.Location
	if b.locator != nil {
		loc, err = b.locator.Resolve(ctx)
		if err != nil {
			return fail(newError(KindPathResolution, err, err.Error()))
		}
	}

	if err := inv.transition(StateSpawning); err != nil {
		return fail(newError(KindSpawn, err, ""))
	}

	out, err := b.launcher.Launch(ctx, LaunchRequest{
		Location:      loc,
		Payload:       encoded,
		CorrelationID: inv.id,
		Started: func(pid int) {
			_ = inv.transition(StateRunning)
			if pid > 0 {
				inv.logger.Debug("worker started", "pid", pid)
			}
		},
		Logger: inv.logger,
	})
	if err != nil {
		e, ok := err.(*Error)
		if !ok {
			e = newError(KindSpawn, err, err.Error())
		}
		// A worker that started can no longer fail to spawn.
		if e.Kind == KindSpawn && inv.state == StateRunning {
			e.Kind = KindRuntime
		}
		return fail(e)
	}

	if inv.state == StateSpawning {
		_ = inv.transition(StateRunning)
	}

	stderr := string(out.Stderr)
	if out.ExitCode != 0 {
		e := &Error{
			Kind:       KindRuntime,
			ExitCode:   out.ExitCode,
			Err:        fmt.Errorf("worker exited with status %d", out.ExitCode),
			Diagnostic: stderr,
		}
		return fail(e)
	}

	if out.Overflow > 0 {
		e := newError(KindParse,
			fmt.Errorf("output exceeds %d bytes (%d discarded)", len(out.Stdout), out.Overflow),
			protocol.Truncate(out.Stdout, protocol.DefaultRawLimit))
		e.ExitCode = 0
		return fail(e)
	}

	value, err := protocol.DecodeResult(out.Stdout)
	if err != nil {
		e := newError(KindParse, err,
			fmt.Sprintf("%v, output: %s", err, protocol.Truncate(out.Stdout, protocol.DefaultRawLimit)))
		e.ExitCode = 0
		return fail(e)
	}

	if err := inv.transition(StateSucceeded); err != nil {
		return fail(newError(KindParse, err, ""))
	}
	return &Result{
		Value:     value,
		Raw:       json.RawMessage(out.Stdout),
		Stderr:    stderr,
		QueueWait: queueWait,
	}, nil
}

func (b *Bridge) publish(eventType string, data any) {
	if b.notifier != nil {
		b.notifier.Publish(eventType, data)
	}
}
