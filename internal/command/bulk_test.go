package command

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coachsync/coachsync/internal/entity"
)

func newTestCoordinator(t *testing.T, exec Executor, cfg CoordinatorConfig, ids ...string) (*Coordinator, *entity.Registry) {
	t.Helper()
	reg := seedRegistry(t, ids...)
	if exec == nil {
		exec = NewLoopbackExecutor(reg)
	}
	d := NewDispatcher(reg, exec, time.Second, 30*time.Second)
	return NewCoordinator(d, nil, cfg), reg
}

func TestBulkExecuteAllSucceed(t *testing.T) {
	ids := []string{"light-1", "light-2", "light-3"}
	c, reg := newTestCoordinator(t, nil, CoordinatorConfig{}, ids...)

	result, err := c.Execute(context.Background(), BulkRequest{
		EntityIDs: ids,
		Command:   Command{Kind: KindSet, State: boolPtr(true)},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.OperationID == "" {
		t.Error("missing operation ID")
	}
	if result.TotalCount != 3 || result.SuccessCount != 3 || result.FailedCount != 0 {
		t.Errorf("counts = (%d, %d, %d), want (3, 3, 0)",
			result.TotalCount, result.SuccessCount, result.FailedCount)
	}
	if !result.AllSucceeded() {
		t.Error("AllSucceeded() = false")
	}

	// Results preserve request order.
	for i, id := range ids {
		if result.Results[i].EntityID != id {
			t.Errorf("Results[%d].EntityID = %q, want %q", i, result.Results[i].EntityID, id)
		}
	}

	for _, id := range ids {
		ent, _ := reg.Get(context.Background(), id)
		if ent.State["on"] != true {
			t.Errorf("entity %s not switched on", id)
		}
	}
}

func TestBulkExecuteMixedOutcomes(t *testing.T) {
	// light-2 times out; light-1 and light-3 succeed. With ignore_errors
	// the whole set is attempted and counted.
	ids := []string{"light-1", "light-2", "light-3"}
	reg := seedRegistry(t, ids...)
	loopback := NewLoopbackExecutor(reg)
	exec := executorFunc(func(ctx context.Context, ent *entity.Entity, cmd Command) error {
		if ent.ID == "light-2" {
			<-ctx.Done()
			return ctx.Err()
		}
		return loopback.Execute(ctx, ent, cmd)
	})
	d := NewDispatcher(reg, exec, 30*time.Millisecond, 30*time.Second)
	c := NewCoordinator(d, nil, CoordinatorConfig{})

	result, err := c.Execute(context.Background(), BulkRequest{
		EntityIDs:    ids,
		Command:      Command{Kind: KindSet, State: boolPtr(true)},
		IgnoreErrors: true,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.TotalCount != 3 || result.SuccessCount != 2 || result.FailedCount != 1 {
		t.Errorf("counts = (%d, %d, %d), want (3, 2, 1)",
			result.TotalCount, result.SuccessCount, result.FailedCount)
	}
	if result.Results[1].Status != StatusTimeout {
		t.Errorf("Results[1].Status = %q, want timeout", result.Results[1].Status)
	}
	if result.SuccessCount+result.FailedCount != result.TotalCount {
		t.Error("count invariant violated")
	}
}

func TestBulkExecuteHaltsWithoutIgnoreErrors(t *testing.T) {
	// Serial execution (concurrency 1) with a failure on the second
	// target: later targets must not be dispatched.
	ids := []string{"light-1", "light-2", "light-3", "light-4"}
	reg := seedRegistry(t, ids...)
	loopback := NewLoopbackExecutor(reg)

	var executions atomic.Int32
	exec := executorFunc(func(ctx context.Context, ent *entity.Entity, cmd Command) error {
		executions.Add(1)
		if ent.ID == "light-2" {
			return errors.New("device rejected command")
		}
		return loopback.Execute(ctx, ent, cmd)
	})
	d := NewDispatcher(reg, exec, time.Second, 30*time.Second)
	c := NewCoordinator(d, nil, CoordinatorConfig{Concurrency: 1})

	result, err := c.Execute(context.Background(), BulkRequest{
		EntityIDs:    ids,
		Command:      Command{Kind: KindToggle},
		IgnoreErrors: false,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := executions.Load(); got != 2 {
		t.Errorf("executor ran %d times, want 2 (halted after first failure)", got)
	}
	if result.TotalCount != 4 {
		t.Errorf("TotalCount = %d, want 4", result.TotalCount)
	}
	if result.SuccessCount != 1 || result.FailedCount != 3 {
		t.Errorf("counts = (%d, %d), want (1, 3)", result.SuccessCount, result.FailedCount)
	}
	for _, idx := range []int{2, 3} {
		if result.Results[idx].ErrorCode != CodeAborted {
			t.Errorf("Results[%d].ErrorCode = %q, want %q",
				idx, result.Results[idx].ErrorCode, CodeAborted)
		}
	}
}

func TestBulkExecuteRequestValidation(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, CoordinatorConfig{MaxTargets: 50}, "light-1")

	tooMany := make([]string, 51)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("light-%d", i)
	}

	tests := []struct {
		name    string
		req     BulkRequest
		wantErr error
	}{
		{
			"empty target set",
			BulkRequest{Command: Command{Kind: KindToggle}},
			ErrEmptyTargetSet,
		},
		{
			"too many targets",
			BulkRequest{EntityIDs: tooMany, Command: Command{Kind: KindToggle}},
			ErrTooManyTargets,
		},
		{
			"duplicate targets",
			BulkRequest{EntityIDs: []string{"light-1", "light-1"}, Command: Command{Kind: KindToggle}},
			ErrDuplicateTarget,
		},
		{
			"invalid command",
			BulkRequest{EntityIDs: []string{"light-1"}, Command: Command{Kind: "explode"}},
			ErrInvalidCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Execute(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Execute() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBulkExecuteBoundedConcurrency(t *testing.T) {
	const concurrency = 2

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("light-%d", i)
	}

	var inFlight, peak atomic.Int32
	exec := executorFunc(func(ctx context.Context, _ *entity.Entity, _ Command) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	c, _ := newTestCoordinator(t, exec, CoordinatorConfig{Concurrency: concurrency}, ids...)

	result, err := c.Execute(context.Background(), BulkRequest{
		EntityIDs: ids,
		Command:   Command{Kind: KindToggle},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.SuccessCount != len(ids) {
		t.Errorf("SuccessCount = %d, want %d", result.SuccessCount, len(ids))
	}
	if p := peak.Load(); p > concurrency {
		t.Errorf("peak concurrency = %d, want <= %d", p, concurrency)
	}
}

func TestBulkExecuteBatchTimeoutMarksInFlight(t *testing.T) {
	// The executor blocks until released, well past the batch deadline.
	// Execute must return at the deadline with the in-flight target
	// reported as timeout instead of waiting for the command to settle.
	release := make(chan struct{})
	defer close(release)
	exec := executorFunc(func(ctx context.Context, _ *entity.Entity, _ Command) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	c, _ := newTestCoordinator(t, exec,
		CoordinatorConfig{Concurrency: 1, BatchTimeout: 30 * time.Millisecond}, "light-1")

	start := time.Now()
	result, err := c.Execute(context.Background(), BulkRequest{
		EntityIDs: []string{"light-1"},
		Command:   Command{Kind: KindToggle},
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// Per-command timeout is 1s here; returning anywhere near it means
	// the batch deadline was ignored.
	if elapsed > 500*time.Millisecond {
		t.Errorf("Execute() returned after %v, want ~batch timeout (30ms)", elapsed)
	}
	if got := result.Results[0].Status; got != StatusTimeout {
		t.Errorf("Results[0].Status = %q, want timeout", got)
	}
	if result.SuccessCount != 0 || result.FailedCount != 1 {
		t.Errorf("counts = (%d, %d), want (0, 1)", result.SuccessCount, result.FailedCount)
	}
}

func TestBulkExecuteOnCompleteHook(t *testing.T) {
	ids := []string{"light-1", "light-2"}
	c, _ := newTestCoordinator(t, nil, CoordinatorConfig{}, ids...)

	var hooked *BulkResult
	c.SetOnComplete(func(res *BulkResult) { hooked = res })

	result, err := c.Execute(context.Background(), BulkRequest{
		EntityIDs: ids,
		Command:   Command{Kind: KindSet, State: boolPtr(true)},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if hooked == nil {
		t.Fatal("completion hook not invoked")
	}
	if hooked.OperationID != result.OperationID {
		t.Errorf("hook OperationID = %q, want %q", hooked.OperationID, result.OperationID)
	}
	if hooked.TotalCount != 2 || hooked.SuccessCount != 2 {
		t.Errorf("hook counts = (%d, %d), want (2, 2)", hooked.TotalCount, hooked.SuccessCount)
	}
}

func TestBulkExecuteBatchTimeout(t *testing.T) {
	ids := []string{"light-1", "light-2", "light-3"}
	exec := executorFunc(func(ctx context.Context, _ *entity.Entity, _ Command) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	})

	// Concurrency 1 and a batch timeout shorter than two executions:
	// trailing targets never acquire a slot and are marked timeout.
	c, _ := newTestCoordinator(t, exec,
		CoordinatorConfig{Concurrency: 1, BatchTimeout: 90 * time.Millisecond}, ids...)

	result, err := c.Execute(context.Background(), BulkRequest{
		EntityIDs:    ids,
		Command:      Command{Kind: KindToggle},
		IgnoreErrors: true,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.TotalCount != 3 {
		t.Fatalf("TotalCount = %d, want 3", result.TotalCount)
	}
	if result.SuccessCount+result.FailedCount != result.TotalCount {
		t.Error("count invariant violated")
	}
	if last := result.Results[2]; last.Status != StatusTimeout {
		t.Errorf("Results[2].Status = %q, want timeout", last.Status)
	}
}
