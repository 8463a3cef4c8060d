package command

import (
	"context"
	"errors"
	"time"

	"github.com/coachsync/coachsync/internal/entity"
)

// Status is the terminal outcome of a dispatched command.
type Status string

// Command outcomes. Every dispatch terminates in exactly one of these.
const (
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusTimeout      Status = "timeout"
	StatusUnauthorized Status = "unauthorized"
)

// Error codes attached to non-success results.
const (
	CodeNotFound       = "not_found"
	CodeUnavailable    = "unavailable"
	CodeInvalidCommand = "invalid_command"
	CodeTimeout        = "timeout"
	CodeExecutionError = "execution_error"
	CodeUnauthorized   = "unauthorized"
	CodeAborted        = "aborted"
)

// Result is the per-entity outcome of a dispatch.
type Result struct {
	EntityID     string        `json:"entity_id"`
	Status       Status        `json:"status"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"-"`
	DurationMS   int64         `json:"execution_time_ms"`
}

// OK reports whether the dispatch succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func failure(entityID string, status Status, code, msg string, elapsed time.Duration) Result {
	return Result{
		EntityID:     entityID,
		Status:       status,
		ErrorCode:    code,
		ErrorMessage: msg,
		Duration:     elapsed,
		DurationMS:   elapsed.Milliseconds(),
	}
}

// Executor carries a validated command to the device behind an entity and
// blocks until the device confirms, the context expires, or execution fails.
type Executor interface {
	Execute(ctx context.Context, ent *entity.Entity, cmd Command) error
}

// Logger defines the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Dispatcher validates commands, resolves their targets and executes them
// with a bounded timeout.
//
// Dispatch never returns an error for per-entity outcomes: not-found,
// unavailable, timeout and execution failures are all encoded in the
// Result so bulk operations can aggregate them uniformly.
type Dispatcher struct {
	registry       *entity.Registry
	executor       Executor
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	logger         Logger
}

// NewDispatcher creates a dispatcher. defaultTimeout applies when the
// caller does not request one; maxTimeout caps caller-requested timeouts.
func NewDispatcher(registry *entity.Registry, executor Executor, defaultTimeout, maxTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry:       registry,
		executor:       executor,
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// boundTimeout resolves the effective execution timeout for a dispatch.
func (d *Dispatcher) boundTimeout(requested time.Duration) time.Duration {
	t := requested
	if t <= 0 {
		t = d.defaultTimeout
	}
	if d.maxTimeout > 0 && t > d.maxTimeout {
		t = d.maxTimeout
	}
	return t
}

// Dispatch validates and executes a single command against one entity.
//
// timeout bounds device execution; zero selects the configured default,
// and values above the configured maximum are capped. The returned Result
// always carries a terminal status.
func (d *Dispatcher) Dispatch(ctx context.Context, entityID string, cmd Command, timeout time.Duration) Result {
	start := time.Now()

	if err := cmd.Validate(); err != nil {
		return failure(entityID, StatusFailed, CodeInvalidCommand, err.Error(), time.Since(start))
	}

	ent, err := d.registry.Get(ctx, entityID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return failure(entityID, StatusFailed, CodeNotFound, "entity not found", time.Since(start))
		}
		return failure(entityID, StatusFailed, CodeExecutionError, err.Error(), time.Since(start))
	}

	if !ent.Available {
		return failure(entityID, StatusFailed, CodeUnavailable, "entity unavailable", time.Since(start))
	}

	execCtx, cancel := context.WithTimeout(ctx, d.boundTimeout(timeout))
	defer cancel()

	err = d.executor.Execute(execCtx, ent, cmd)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		d.logger.Debug("command executed",
			"entity_id", entityID, "command", cmd.Kind, "duration_ms", elapsed.Milliseconds())
		return Result{
			EntityID:   entityID,
			Status:     StatusSuccess,
			Duration:   elapsed,
			DurationMS: elapsed.Milliseconds(),
		}

	case errors.Is(err, ErrUnauthorized):
		return failure(entityID, StatusUnauthorized, CodeUnauthorized, "control scope required", elapsed)

	case errors.Is(err, context.DeadlineExceeded):
		d.logger.Warn("command timed out",
			"entity_id", entityID, "command", cmd.Kind, "duration_ms", elapsed.Milliseconds())
		return failure(entityID, StatusTimeout, CodeTimeout, "device did not confirm in time", elapsed)

	default:
		d.logger.Warn("command failed",
			"entity_id", entityID, "command", cmd.Kind, "error", err)
		return failure(entityID, StatusFailed, CodeExecutionError, err.Error(), elapsed)
	}
}
