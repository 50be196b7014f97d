package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/mattjoyce/trialmatch/internal/locator"
)

const (
	// maxStderrBytes caps the diagnostic stream captured from the worker.
	maxStderrBytes = 64 * 1024

	// defaultKillGrace is the time we wait after SIGTERM before sending SIGKILL.
	defaultKillGrace = 5 * time.Second
)

// LaunchRequest is one attempt to run the worker.
type LaunchRequest struct {
	Location      locator.Location
	Payload       string
	CorrelationID string
	// Started is called once the worker is running, before output is collected.
	Started func(pid int)
	Logger  *slog.Logger
}

// Output is what a worker that ran to completion produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	// Overflow is the number of stdout bytes discarded past the output cap.
	Overflow int64
}

// Launcher runs the worker once. Failures to start return a KindSpawn *Error,
// failures after Started a KindRuntime *Error. An elapsed deadline returns a
// KindTimeout *Error after the worker is gone.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (*Output, error)
}

// ProcessLauncher runs the worker as a child process:
//
//	<worker> <json-payload>
//
// with the worker's directory as working directory and no stdin.
type ProcessLauncher struct {
	KillGrace      time.Duration
	MaxOutputBytes int
}

// Launch starts the worker and blocks until it exits or ctx is done.
func (l *ProcessLauncher) Launch(ctx context.Context, req LaunchRequest) (*Output, error) {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, deadlineError(err)
	}

	// Not CommandContext: termination is managed here so the grace period applies.
	cmd := exec.Command(req.Location.Path, req.Payload)
	cmd.Dir = req.Location.Dir
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, newError(KindSpawn, fmt.Errorf("create stdout pipe: %w", err), "")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, newError(KindSpawn, fmt.Errorf("create stderr pipe: %w", err), "")
	}

	logger.Debug("spawning worker", "worker_path", req.Location.Path, "dir", req.Location.Dir, "payload_bytes", len(req.Payload))

	if err := cmd.Start(); err != nil {
		return nil, newError(KindSpawn, fmt.Errorf("start process: %w", err), err.Error())
	}
	if req.Started != nil {
		req.Started(cmd.Process.Pid)
	}

	agg := newAggregator(stdout, stderr, l.MaxOutputBytes, maxStderrBytes)

	// Wait may only be called once both pipes are drained.
	waitErr := make(chan error, 1)
	go func() {
		agg.wait()
		waitErr <- cmd.Wait()
	}()

	select {
	case err := <-waitErr:
		exitCode := 0
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, newError(KindRuntime, fmt.Errorf("wait for process: %w", err), agg.stderr.buf.String())
			}
			exitCode = exitErr.ExitCode()
			logger.Debug("worker exited with non-zero status", "exit_code", exitCode)
		}
		if rerr := agg.err(); rerr != nil {
			logger.Warn("error reading worker output", "error", rerr)
		}
		return &Output{
			Stdout:   agg.stdout.buf.Bytes(),
			Stderr:   agg.stderr.buf.Bytes(),
			ExitCode: exitCode,
			Overflow: agg.stdout.dropped,
		}, nil

	case <-ctx.Done():
		e := deadlineError(ctx.Err())
		if l.terminate(cmd, agg, waitErr, logger) {
			if s := agg.stderr.buf.String(); s != "" {
				e.Diagnostic += "; stderr: " + s
			}
		}
		return nil, e
	}
}

// terminate sends SIGTERM to the worker's process group, waits out the grace
// period, then sends SIGKILL. It reports true once the process has been reaped,
// or false after a further grace period if even SIGKILL could not be delivered.
func (l *ProcessLauncher) terminate(cmd *exec.Cmd, agg *aggregator, waitErr <-chan error, logger *slog.Logger) bool {
	grace := l.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}

	logger.Warn("worker deadline elapsed, sending SIGTERM", "pid", cmd.Process.Pid)
	if err := terminateGroup(cmd); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-waitErr:
		logger.Info("worker exited after SIGTERM")
		return true
	case <-graceTimer.C:
	}

	logger.Warn("worker did not exit after SIGTERM, sending SIGKILL", "pid", cmd.Process.Pid)
	if err := killGroup(cmd); err != nil {
		logger.Error("failed to send SIGKILL", "error", err)
	}

	// A process outside the group may still hold the pipes open.
	reapTimer := time.NewTimer(grace)
	defer reapTimer.Stop()
	select {
	case <-waitErr:
		return true
	case <-reapTimer.C:
	}

	agg.abort()
	select {
	case <-waitErr:
		return true
	case <-time.After(grace):
		logger.Error("worker could not be reaped after SIGKILL, abandoning", "pid", cmd.Process.Pid)
		return false
	}
}

func deadlineError(err error) *Error {
	diag := "deadline elapsed"
	if errors.Is(err, context.Canceled) {
		diag = "invocation cancelled"
	}
	return &Error{Kind: KindTimeout, ExitCode: -1, Err: err, Diagnostic: diag}
}
