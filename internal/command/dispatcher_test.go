package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coachsync/coachsync/internal/entity"
)

// memRepo is a minimal in-memory entity.Repository for dispatcher tests.
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
	if _, ok := m.entities[ent.ID]; ok {
		return entity.ErrExists
	}
	m.entities[ent.ID] = ent.DeepCopy()
	return nil
}

func (m *memRepo) Update(_ context.Context, ent *entity.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[ent.ID]; !ok {
		return entity.ErrNotFound
	}
	m.entities[ent.ID] = ent.DeepCopy()
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		return entity.ErrNotFound
	}
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
		if ent.State == nil {
			ent.State = entity.State{}
		}
		ent.State[k] = v
	}
	ts := lastUpdated
	ent.LastUpdated = &ts
	return nil
}

func (m *memRepo) UpdateAvailability(_ context.Context, id string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.entities[id]
	if !ok {
		return entity.ErrNotFound
	}
	ent.Available = available
	return nil
}

// executorFunc adapts a function to the Executor interface.
type executorFunc func(ctx context.Context, ent *entity.Entity, cmd Command) error

func (f executorFunc) Execute(ctx context.Context, ent *entity.Entity, cmd Command) error {
	return f(ctx, ent, cmd)
}

func seedRegistry(t *testing.T, ids ...string) *entity.Registry {
	t.Helper()
	repo := newMemRepo()
	for _, id := range ids {
		ent := &entity.Entity{
			ID:        id,
			Name:      "Test " + id,
			Type:      entity.DeviceTypeLight,
			Protocol:  entity.ProtocolRVC,
			State:     entity.State{"on": false, "brightness": float64(0)},
			Available: true,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := repo.Create(context.Background(), ent); err != nil {
			t.Fatalf("seeding %s: %v", id, err)
		}
	}
	reg := entity.NewRegistry(repo)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("refreshing cache: %v", err)
	}
	return reg
}

func TestDispatchSuccess(t *testing.T) {
	reg := seedRegistry(t, "light-1")
	exec := NewLoopbackExecutor(reg)
	d := NewDispatcher(reg, exec, time.Second, 30*time.Second)

	res := d.Dispatch(context.Background(), "light-1",
		Command{Kind: KindSet, State: boolPtr(true)}, 0)

	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want success", res.Status, res.ErrorMessage)
	}
	if res.EntityID != "light-1" {
		t.Errorf("EntityID = %q, want light-1", res.EntityID)
	}

	ent, err := reg.Get(context.Background(), "light-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ent.State["on"] != true {
		t.Error("confirmed state not applied")
	}
}

func TestDispatchNotFound(t *testing.T) {
	reg := seedRegistry(t)
	d := NewDispatcher(reg, NewLoopbackExecutor(reg), time.Second, 30*time.Second)

	res := d.Dispatch(context.Background(), "ghost",
		Command{Kind: KindToggle}, 0)

	if res.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", res.Status)
	}
	if res.ErrorCode != CodeNotFound {
		t.Errorf("ErrorCode = %q, want %q", res.ErrorCode, CodeNotFound)
	}
}

func TestDispatchUnavailable(t *testing.T) {
	reg := seedRegistry(t, "light-1")
	if err := reg.SetAvailability(context.Background(), "light-1", false); err != nil {
		t.Fatalf("SetAvailability() error = %v", err)
	}

	executed := false
	exec := executorFunc(func(context.Context, *entity.Entity, Command) error {
		executed = true
		return nil
	})
	d := NewDispatcher(reg, exec, time.Second, 30*time.Second)

	res := d.Dispatch(context.Background(), "light-1", Command{Kind: KindToggle}, 0)

	if res.Status != StatusFailed || res.ErrorCode != CodeUnavailable {
		t.Errorf("got (%q, %q), want (failed, unavailable)", res.Status, res.ErrorCode)
	}
	if executed {
		t.Error("executor ran against an unavailable entity")
	}
}

func TestDispatchInvalidCommand(t *testing.T) {
	reg := seedRegistry(t, "light-1")
	d := NewDispatcher(reg, NewLoopbackExecutor(reg), time.Second, 30*time.Second)

	res := d.Dispatch(context.Background(), "light-1",
		Command{Kind: KindSet, Brightness: intPtr(150)}, 0)

	if res.Status != StatusFailed || res.ErrorCode != CodeInvalidCommand {
		t.Errorf("got (%q, %q), want (failed, invalid_command)", res.Status, res.ErrorCode)
	}
}

func TestDispatchTimeout(t *testing.T) {
	reg := seedRegistry(t, "light-1")
	exec := executorFunc(func(ctx context.Context, _ *entity.Entity, _ Command) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d := NewDispatcher(reg, exec, 20*time.Millisecond, 30*time.Second)

	res := d.Dispatch(context.Background(), "light-1", Command{Kind: KindToggle}, 0)

	if res.Status != StatusTimeout {
		t.Errorf("Status = %q, want timeout", res.Status)
	}
	if res.ErrorCode != CodeTimeout {
		t.Errorf("ErrorCode = %q, want %q", res.ErrorCode, CodeTimeout)
	}
}

func TestDispatchUnauthorized(t *testing.T) {
	reg := seedRegistry(t, "light-1")
	exec := executorFunc(func(context.Context, *entity.Entity, Command) error {
		return ErrUnauthorized
	})
	d := NewDispatcher(reg, exec, time.Second, 30*time.Second)

	res := d.Dispatch(context.Background(), "light-1", Command{Kind: KindToggle}, 0)

	if res.Status != StatusUnauthorized {
		t.Errorf("Status = %q, want unauthorized", res.Status)
	}
}

func TestDispatchTimeoutCapped(t *testing.T) {
	reg := seedRegistry(t, "light-1")

	var gotDeadline time.Time
	exec := executorFunc(func(ctx context.Context, _ *entity.Entity, _ Command) error {
		gotDeadline, _ = ctx.Deadline()
		return nil
	})
	d := NewDispatcher(reg, exec, time.Second, 100*time.Millisecond)

	// Caller asks for far more than the configured maximum.
	res := d.Dispatch(context.Background(), "light-1", Command{Kind: KindToggle}, time.Hour)
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q, want success", res.Status)
	}

	if remaining := time.Until(gotDeadline); remaining > 200*time.Millisecond {
		t.Errorf("deadline %v away, want capped near 100ms", remaining)
	}
}
