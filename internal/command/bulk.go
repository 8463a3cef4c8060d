package command

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Coordinator limits for bulk requests.
const (
	// DefaultMaxTargets is the per-operation target limit.
	DefaultMaxTargets = 50
	// DefaultConcurrency is the number of commands in flight at once.
	DefaultConcurrency = 8
)

// BulkRequest is a validated request to apply one command to many entities.
type BulkRequest struct {
	EntityIDs []string `json:"entity_ids"`
	Command   Command  `json:"command"`

	// IgnoreErrors controls failure semantics: true processes every target
	// regardless of individual failures; false stops dispatching new
	// commands after the first failure (in-flight commands still finish).
	IgnoreErrors bool `json:"ignore_errors"`

	// Timeout bounds each individual command; zero selects the default.
	Timeout time.Duration `json:"-"`
}

// BulkResult is the aggregate outcome of a bulk operation.
//
// Counts always satisfy TotalCount == SuccessCount + FailedCount, where
// FailedCount covers every non-success status (failed, timeout,
// unauthorized). Results preserve request order.
type BulkResult struct {
	OperationID  string   `json:"operation_id"`
	TotalCount   int      `json:"total_count"`
	SuccessCount int      `json:"success_count"`
	FailedCount  int      `json:"failed_count"`
	Results      []Result `json:"results"`
	TotalTimeMS  int64    `json:"total_execution_time_ms"`
}

// AllSucceeded reports whether every target succeeded.
func (r BulkResult) AllSucceeded() bool {
	return r.FailedCount == 0
}

// CoordinatorConfig bounds bulk execution.
type CoordinatorConfig struct {
	MaxTargets   int
	Concurrency  int
	BatchTimeout time.Duration
}

// Coordinator fans a bulk request out over the dispatcher with bounded
// concurrency and aggregates per-target results.
type Coordinator struct {
	dispatcher *Dispatcher
	repo       OperationRepository
	cfg        CoordinatorConfig
	logger     Logger

	onComplete func(*BulkResult)
}

// NewCoordinator creates a bulk coordinator. repo may be nil to disable
// operation persistence.
func NewCoordinator(dispatcher *Dispatcher, repo OperationRepository, cfg CoordinatorConfig) *Coordinator {
	if cfg.MaxTargets <= 0 {
		cfg.MaxTargets = DefaultMaxTargets
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Coordinator{
		dispatcher: dispatcher,
		repo:       repo,
		cfg:        cfg,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// SetOnComplete registers a hook invoked with the aggregate result of
// every finished bulk operation.
func (c *Coordinator) SetOnComplete(fn func(*BulkResult)) {
	c.onComplete = fn
}

// Validate checks request-level constraints without dispatching anything.
// Callers that do preparatory work per target (predictions, auditing) can
// reject a bad request before touching any entity.
func (c *Coordinator) Validate(req BulkRequest) error {
	return c.validate(req)
}

// validate checks request-level constraints. These reject the whole
// request before any dispatch; per-entity problems surface as results.
func (c *Coordinator) validate(req BulkRequest) error {
	if len(req.EntityIDs) == 0 {
		return ErrEmptyTargetSet
	}
	if len(req.EntityIDs) > c.cfg.MaxTargets {
		return fmt.Errorf("%w: %d targets exceeds limit of %d",
			ErrTooManyTargets, len(req.EntityIDs), c.cfg.MaxTargets)
	}

	seen := make(map[string]struct{}, len(req.EntityIDs))
	for _, id := range req.EntityIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateTarget, id)
		}
		seen[id] = struct{}{}
	}

	return req.Command.Validate()
}

// Execute runs a bulk operation and returns its aggregate result.
//
// Request-level validation failures return an error and dispatch nothing.
// Once dispatching begins, Execute always returns a complete result: every
// target appears exactly once, in request order, with a terminal status.
//
// Execute returns when every dispatch settles or the batch deadline
// passes, whichever is first. At the deadline, targets that never started
// and commands still in flight are both reported as timeout; in-flight
// commands keep running on a detached context, and any late confirmation
// lands through the registry's monotonic update path.
func (c *Coordinator) Execute(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	opID := uuid.NewString()
	start := time.Now()

	c.logger.Info("bulk operation started",
		"operation_id", opID,
		"command", req.Command.Kind,
		"targets", len(req.EntityIDs),
		"ignore_errors", req.IgnoreErrors,
	)

	batchCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.BatchTimeout > 0 {
		batchCtx, cancel = context.WithTimeout(ctx, c.cfg.BatchTimeout)
		defer cancel()
	}

	// Dispatches run on a context detached from the batch deadline so an
	// expiring batch never kills commands already in flight.
	dispatchCtx := context.WithoutCancel(ctx)

	sem := semaphore.NewWeighted(int64(c.cfg.Concurrency))
	results := make([]Result, len(req.EntityIDs))
	settled := make([]bool, len(req.EntityIDs))

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		halted atomic.Bool
	)

	record := func(idx int, res Result) {
		mu.Lock()
		results[idx] = res
		settled[idx] = true
		mu.Unlock()
	}

	for i, id := range req.EntityIDs {
		if !req.IgnoreErrors && halted.Load() {
			record(i, failure(id, StatusFailed, CodeAborted,
				"not attempted: previous command failed", 0))
			continue
		}

		if err := sem.Acquire(batchCtx, 1); err != nil {
			// Batch deadline hit while waiting for a slot.
			record(i, failure(id, StatusTimeout, CodeTimeout,
				"not attempted: batch timeout", 0))
			continue
		}

		// Re-check after acquiring: a failure is recorded before its slot
		// is released, so this sees halts raised while we were waiting.
		if !req.IgnoreErrors && halted.Load() {
			sem.Release(1)
			record(i, failure(id, StatusFailed, CodeAborted,
				"not attempted: previous command failed", 0))
			continue
		}

		wg.Add(1)
		go func(idx int, entityID string) {
			defer wg.Done()
			defer sem.Release(1)

			res := c.dispatcher.Dispatch(dispatchCtx, entityID, req.Command, req.Timeout)
			record(idx, res)

			if !res.OK() && !req.IgnoreErrors {
				halted.Store(true)
			}
		}(i, id)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-batchCtx.Done():
	}

	// Snapshot the results: anything not settled by now is a command
	// still in flight at the batch deadline. It is reported as timeout;
	// its eventual real outcome only matters to the device bus.
	mu.Lock()
	final := make([]Result, len(results))
	copy(final, results)
	for i, done := range settled {
		if !done {
			final[i] = failure(req.EntityIDs[i], StatusTimeout, CodeTimeout,
				"batch timeout: command still in flight", 0)
		}
	}
	mu.Unlock()

	result := &BulkResult{
		OperationID: opID,
		TotalCount:  len(req.EntityIDs),
		Results:     final,
		TotalTimeMS: time.Since(start).Milliseconds(),
	}
	for _, res := range final {
		if res.OK() {
			result.SuccessCount++
		} else {
			result.FailedCount++
		}
	}

	c.logger.Info("bulk operation finished",
		"operation_id", opID,
		"success", result.SuccessCount,
		"failed", result.FailedCount,
		"total_time_ms", result.TotalTimeMS,
	)

	if c.repo != nil {
		if err := c.repo.SaveOperation(ctx, newOperation(req, result)); err != nil {
			// Audit persistence is best-effort; the operation itself succeeded.
			c.logger.Warn("saving bulk operation failed",
				"operation_id", opID, "error", err)
		}
	}

	if c.onComplete != nil {
		c.onComplete(result)
	}

	return result, nil
}
