package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coachsync/coachsync/internal/entity"
	"github.com/coachsync/coachsync/internal/notify"
)

// memRepo is a minimal in-memory entity.Repository for reconciler tests.
type memRepo struct {
	mu       sync.Mutex
	entities map[string]*entity.Entity
}

func newMemRepo() *memRepo {
	return &memRepo{entities: make(map[string]*entity.Entity)}
}

func (m *memRepo) GetByID(_ context.Context, id string) (*entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.entities[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return ent.DeepCopy(), nil
}

func (m *memRepo) List(_ context.Context) ([]entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.Entity, 0, len(m.entities))
	for _, ent := range m.entities {
		out = append(out, *ent.DeepCopy())
	}
	return out, nil
}

func (m *memRepo) Create(_ context.Context, ent *entity.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[ent.ID] = ent.DeepCopy()
	return nil
}

func (m *memRepo) Update(_ context.Context, ent *entity.Entity) error {
	return m.Create(context.Background(), ent)
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, id)
	return nil
}

func (m *memRepo) UpdateState(_ context.Context, id string, state entity.State, lastUpdated time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.entities[id]
	if !ok {
		return entity.ErrNotFound
	}
	for k, v := range state {
		ent.State[k] = v
	}
	ts := lastUpdated
	ent.LastUpdated = &ts
	return nil
}

func (m *memRepo) UpdateAvailability(_ context.Context, id string, available bool) error {
	return nil
}

type fixture struct {
	registry   *entity.Registry
	notifier   *notify.Notifier
	reconciler *Reconciler
	cancel     context.CancelFunc
}

func newFixture(t *testing.T, window time.Duration) *fixture {
	t.Helper()

	repo := newMemRepo()
	_ = repo.Create(context.Background(), &entity.Entity{
		ID:        "light-1",
		Name:      "Light 1",
		Type:      entity.DeviceTypeLight,
		Protocol:  entity.ProtocolRVC,
		State:     entity.State{"on": false, "brightness": float64(0)},
		Available: true,
	})

	reg := entity.NewRegistry(repo)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("refreshing cache: %v", err)
	}

	n := notify.New(16)
	reg.SetOnConfirmed(n.Publish)

	r := New(reg, n, window)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		n.Close()
	})

	return &fixture{registry: reg, notifier: n, reconciler: r, cancel: cancel}
}

func TestPredictConfirm(t *testing.T) {
	f := newFixture(t, time.Second)

	err := f.reconciler.Predict(context.Background(), "light-1", entity.State{"on": true})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	// Device confirms through the registry's normal mutation path.
	if err := f.registry.ApplyConfirmedUpdate(context.Background(), "light-1",
		entity.State{"on": true}, time.Now().UTC()); err != nil {
		t.Fatalf("ApplyConfirmedUpdate() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.reconciler.Await(ctx, "light-1"); err != nil {
		t.Fatalf("Await() error = %v, want nil (confirmed)", err)
	}

	if f.reconciler.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", f.reconciler.PendingCount())
	}
}

func TestPredictExpires(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	var reverted []Reversion
	var mu sync.Mutex
	f.reconciler.SetOnRevert(func(rev Reversion) {
		mu.Lock()
		reverted = append(reverted, rev)
		mu.Unlock()
	})

	if err := f.reconciler.Predict(context.Background(), "light-1",
		entity.State{"on": true}); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.reconciler.Await(ctx, "light-1"); !errors.Is(err, ErrPredictionExpired) {
		t.Fatalf("Await() error = %v, want ErrPredictionExpired", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reverted) != 1 {
		t.Fatalf("revert hook fired %d times, want 1", len(reverted))
	}
	if reverted[0].EntityID != "light-1" {
		t.Errorf("Reversion.EntityID = %q, want light-1", reverted[0].EntityID)
	}
	if reverted[0].Snapshot["on"] != false {
		t.Errorf("Reversion.Snapshot[on] = %v, want false (pre-command state)", reverted[0].Snapshot["on"])
	}
}

func TestOptimisticStateOverlay(t *testing.T) {
	f := newFixture(t, time.Minute) // long window: stays pending

	if err := f.reconciler.Predict(context.Background(), "light-1",
		entity.State{"on": true, "brightness": float64(80)}); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	ent, err := f.registry.Get(context.Background(), "light-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Confirmed state is untouched by the prediction.
	if ent.State["on"] != false {
		t.Error("prediction leaked into confirmed state")
	}

	view := f.reconciler.OptimisticState(ent)
	if view["on"] != true || view["brightness"] != float64(80) {
		t.Errorf("OptimisticState() = %v, want predicted values", view)
	}
}

func TestConfirmedStateWinsOverPrediction(t *testing.T) {
	f := newFixture(t, time.Minute)

	// Predict brightness 80, but the device lands on 60.
	if err := f.reconciler.Predict(context.Background(), "light-1",
		entity.State{"brightness": float64(80)}); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if err := f.registry.ApplyConfirmedUpdate(context.Background(), "light-1",
		entity.State{"brightness": float64(60)}, time.Now().UTC()); err != nil {
		t.Fatalf("ApplyConfirmedUpdate() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.reconciler.Await(ctx, "light-1"); err != nil {
		t.Fatalf("Await() error = %v", err)
	}

	// With the prediction discharged, the view is the confirmed truth.
	ent, _ := f.registry.Get(context.Background(), "light-1")
	view := f.reconciler.OptimisticState(ent)
	if view["brightness"] != float64(60) {
		t.Errorf("brightness = %v, want confirmed 60, not predicted 80", view["brightness"])
	}
}

func TestStaleDuplicateDoesNotConfirm(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)

	var reverted []Reversion
	var mu sync.Mutex
	f.reconciler.SetOnRevert(func(rev Reversion) {
		mu.Lock()
		reverted = append(reverted, rev)
		mu.Unlock()
	})

	// Establish the pre-command state with a known timestamp.
	base := time.Now().UTC()
	if err := f.registry.ApplyConfirmedUpdate(context.Background(), "light-1",
		entity.State{"on": false}, base); err != nil {
		t.Fatalf("ApplyConfirmedUpdate() error = %v", err)
	}

	if err := f.reconciler.Predict(context.Background(), "light-1",
		entity.State{"on": true}); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	// The bus is at-least-once: redeliver the identical pre-command
	// update. Its timestamp is not newer than the baseline, so it must
	// not count as the device acting.
	if err := f.registry.ApplyConfirmedUpdate(context.Background(), "light-1",
		entity.State{"on": false}, base); err != nil {
		t.Fatalf("ApplyConfirmedUpdate() redelivery error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.reconciler.Await(ctx, "light-1"); !errors.Is(err, ErrPredictionExpired) {
		t.Fatalf("Await() error = %v, want ErrPredictionExpired (device never acted)", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reverted) != 1 {
		t.Errorf("revert hook fired %d times, want 1", len(reverted))
	}
}

func TestNewerConfirmationResolvesPrediction(t *testing.T) {
	f := newFixture(t, time.Second)

	base := time.Now().UTC()
	if err := f.registry.ApplyConfirmedUpdate(context.Background(), "light-1",
		entity.State{"on": false}, base); err != nil {
		t.Fatalf("ApplyConfirmedUpdate() error = %v", err)
	}

	if err := f.reconciler.Predict(context.Background(), "light-1",
		entity.State{"on": true}); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if err := f.registry.ApplyConfirmedUpdate(context.Background(), "light-1",
		entity.State{"on": true}, base.Add(50*time.Millisecond)); err != nil {
		t.Fatalf("ApplyConfirmedUpdate() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.reconciler.Await(ctx, "light-1"); err != nil {
		t.Fatalf("Await() error = %v, want nil (confirmed)", err)
	}
}

func TestConfirmationBufferedBeforeRunStarts(t *testing.T) {
	// Build the stack without starting Run: a confirmation published
	// before the run loop is scheduled must still resolve the prediction.
	repo := newMemRepo()
	_ = repo.Create(context.Background(), &entity.Entity{
		ID:        "light-1",
		Name:      "Light 1",
		Type:      entity.DeviceTypeLight,
		Protocol:  entity.ProtocolRVC,
		State:     entity.State{"on": false},
		Available: true,
	})
	reg := entity.NewRegistry(repo)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("refreshing cache: %v", err)
	}
	n := notify.New(16)
	reg.SetOnConfirmed(n.Publish)
	r := New(reg, n, time.Second)

	if err := r.Predict(context.Background(), "light-1", entity.State{"on": true}); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if err := reg.ApplyConfirmedUpdate(context.Background(), "light-1",
		entity.State{"on": true}, time.Now().UTC()); err != nil {
		t.Fatalf("ApplyConfirmedUpdate() error = %v", err)
	}

	// Only now does the run loop start; the event is waiting in the
	// subscription taken at construction.
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		n.Close()
	})

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), time.Second)
	defer awaitCancel()
	if err := r.Await(awaitCtx, "light-1"); err != nil {
		t.Fatalf("Await() error = %v, want nil", err)
	}
}

func TestAwaitNothingPending(t *testing.T) {
	f := newFixture(t, time.Second)

	if err := f.reconciler.Await(context.Background(), "light-1"); err != nil {
		t.Errorf("Await() with nothing pending error = %v, want nil", err)
	}
}

func TestPredictUnknownEntity(t *testing.T) {
	f := newFixture(t, time.Second)

	err := f.reconciler.Predict(context.Background(), "ghost", entity.State{"on": true})
	if !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Predict() error = %v, want ErrNotFound", err)
	}
}

func TestNewerPredictionReplacesOld(t *testing.T) {
	f := newFixture(t, time.Minute)

	if err := f.reconciler.Predict(context.Background(), "light-1",
		entity.State{"brightness": float64(40)}); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if err := f.reconciler.Predict(context.Background(), "light-1",
		entity.State{"brightness": float64(90)}); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if f.reconciler.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1", f.reconciler.PendingCount())
	}

	ent, _ := f.registry.Get(context.Background(), "light-1")
	view := f.reconciler.OptimisticState(ent)
	if view["brightness"] != float64(90) {
		t.Errorf("brightness = %v, want newest prediction 90", view["brightness"])
	}
}
