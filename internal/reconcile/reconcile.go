package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/coachsync/coachsync/internal/entity"
	"github.com/coachsync/coachsync/internal/notify"
)

// DefaultWindow is how long a prediction may stay pending before it is
// reverted.
const DefaultWindow = 2 * time.Second

// Logger defines the logging interface used by the Reconciler.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Reversion describes a prediction that expired unconfirmed.
type Reversion struct {
	EntityID string       `json:"entity_id"`
	Snapshot entity.State `json:"snapshot"`
}

// pending tracks one in-flight prediction.
type pending struct {
	snapshot  entity.State
	predicted entity.State
	expiresAt time.Time
	done      chan error // closed path: nil on confirm, ErrPredictionExpired on revert

	// baseline is the entity's LastUpdated at prediction time. Only a
	// confirmation strictly newer than it resolves the prediction; the
	// bus is at-least-once, so a redelivered pre-command update must not
	// count as the device acting.
	baseline *time.Time
}

// Reconciler keeps an optimistic overlay on top of confirmed entity state.
//
// After a command is dispatched, Predict records the expected outcome so
// reads can show it immediately. Confirmed updates arriving through the
// notifier resolve the prediction; confirmed state always wins, whatever
// the prediction said. A prediction that stays unconfirmed past the
// window is reverted: the overlay is dropped and the registered revert
// hook fires so consumers can restore the pre-command view.
//
// At most one prediction per entity is tracked; a newer prediction
// replaces the old one, which is resolved as expired.
type Reconciler struct {
	registry *entity.Registry
	notifier *notify.Notifier
	window   time.Duration
	logger   Logger
	sub      *notify.Subscription

	mu      sync.Mutex
	pending map[string]*pending

	onRevert func(Reversion)
}

// New creates a reconciler over the registry and notifier. window bounds
// how long predictions stay pending; non-positive selects DefaultWindow.
//
// The notifier subscription is taken here, not in Run, so confirmations
// published between construction and Run's first scheduling are buffered
// instead of lost.
func New(registry *entity.Registry, notifier *notify.Notifier, window time.Duration) *Reconciler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reconciler{
		registry: registry,
		notifier: notifier,
		window:   window,
		logger:   noopLogger{},
		sub:      notifier.Subscribe(),
		pending:  make(map[string]*pending),
	}
}

// SetLogger sets the logger for the reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// SetOnRevert registers the hook invoked when a prediction expires.
func (r *Reconciler) SetOnRevert(fn func(Reversion)) {
	r.onRevert = fn
}

// Run consumes confirmed updates and sweeps expired predictions until the
// context is cancelled. Call it once, on its own goroutine.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.sub == nil {
		return ErrClosed
	}
	defer r.sub.Cancel()

	sweep := time.NewTicker(r.window / 4)
	defer sweep.Stop()

	for {
		select {
		case u, ok := <-r.sub.Events():
			if !ok {
				return ErrClosed
			}
			r.confirm(u.EntityID, u.Timestamp)

		case now := <-sweep.C:
			r.expire(now)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Predict records the expected post-command state for an entity.
// The current confirmed state is snapshotted for the revert path.
func (r *Reconciler) Predict(ctx context.Context, entityID string, predicted entity.State) error {
	ent, err := r.registry.Get(ctx, entityID)
	if err != nil {
		return err
	}

	var baseline *time.Time
	if ent.LastUpdated != nil {
		ts := *ent.LastUpdated
		baseline = &ts
	}

	p := &pending{
		snapshot:  ent.State,
		predicted: predicted,
		expiresAt: time.Now().Add(r.window),
		done:      make(chan error, 1),
		baseline:  baseline,
	}

	r.mu.Lock()
	if old, ok := r.pending[entityID]; ok {
		old.done <- ErrPredictionExpired
	}
	r.pending[entityID] = p
	r.mu.Unlock()

	r.logger.Debug("prediction recorded", "entity_id", entityID)
	return nil
}

// Await blocks until the entity's pending prediction is confirmed or
// reverted. Returns nil on confirmation, ErrPredictionExpired on revert,
// and nil immediately if nothing is pending.
func (r *Reconciler) Await(ctx context.Context, entityID string) error {
	r.mu.Lock()
	p, ok := r.pending[entityID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case err := <-p.done:
		// Propagate to other waiters on the same prediction.
		p.done <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OptimisticState returns the entity's state with any pending prediction
// overlaid. Confirmed fields not touched by the prediction pass through.
func (r *Reconciler) OptimisticState(ent *entity.Entity) entity.State {
	r.mu.Lock()
	p, ok := r.pending[ent.ID]
	r.mu.Unlock()
	if !ok {
		return ent.State
	}

	merged := make(entity.State, len(ent.State)+len(p.predicted))
	for k, v := range ent.State {
		merged[k] = v
	}
	for k, v := range p.predicted {
		merged[k] = v
	}
	return merged
}

// PendingCount returns the number of unresolved predictions.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// confirm resolves an entity's pending prediction, if any. The confirmed
// update has already been applied to the registry; whatever it says is
// now the truth, so the prediction is simply discharged.
//
// Only a confirmation strictly newer than the pre-command baseline
// counts: duplicate redeliveries of older state carry timestamps at or
// before the baseline and leave the prediction pending, so it can still
// revert if the device never acts.
func (r *Reconciler) confirm(entityID string, ts time.Time) {
	r.mu.Lock()
	p, ok := r.pending[entityID]
	if ok && p.baseline != nil && !ts.After(*p.baseline) {
		r.mu.Unlock()
		r.logger.Debug("stale confirmation ignored",
			"entity_id", entityID, "timestamp", ts)
		return
	}
	if ok {
		delete(r.pending, entityID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	p.done <- nil
	r.logger.Debug("prediction confirmed", "entity_id", entityID)
}

// expire reverts predictions whose window has passed.
func (r *Reconciler) expire(now time.Time) {
	r.mu.Lock()
	var expired []struct {
		id string
		p  *pending
	}
	for id, p := range r.pending {
		if now.After(p.expiresAt) {
			expired = append(expired, struct {
				id string
				p  *pending
			}{id, p})
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.p.done <- ErrPredictionExpired
		r.logger.Warn("prediction expired, reverting", "entity_id", e.id)
		if r.onRevert != nil {
			r.onRevert(Reversion{EntityID: e.id, Snapshot: e.p.snapshot})
		}
	}
}
