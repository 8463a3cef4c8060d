package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Update describes a confirmed state transition, as delivered to the
// registry's confirmation hook after a successful mutation.
type Update struct {
	EntityID  string    `json:"entity_id"`
	Fields    State     `json:"fields"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter selects entities by classification. Zero-valued fields are
// ignored; set fields are combined with logical AND.
type Filter struct {
	DeviceType DeviceType
	Protocol   Protocol
	Area       string
}

// matches reports whether the entity satisfies every set filter field.
func (f Filter) matches(e *Entity) bool {
	if f.DeviceType != "" && e.Type != f.DeviceType {
		return false
	}
	if f.Protocol != "" && e.Protocol != f.Protocol {
		return false
	}
	if f.Area != "" && e.Area != f.Area {
		return false
	}
	return true
}

// Registry is the authoritative map of entity ID to current state.
//
// It wraps a Repository and adds an in-memory cache with per-entity locking:
// concurrent confirmed updates to different entities never serialise against
// each other, while racing writers on the same entity are ordered by the
// entity's own lock and the timestamp-monotonicity check.
//
// ApplyConfirmedUpdate is the only state mutation path. It is idempotent
// under duplicate delivery and discards stale updates, which makes it safe
// to feed from both the command-confirmation path and passive bus
// observation without coordination.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository

	// mu guards membership of the entries map only. Individual entity
	// state is guarded by each entry's own lock.
	mu      sync.RWMutex
	entries map[string]*registryEntry

	logger Logger

	// onConfirmed, when set, is invoked after every successful confirmed
	// mutation. It must not block: the registry calls it synchronously on
	// the mutating goroutine, outside the entity lock.
	onConfirmed func(Update)
}

// registryEntry pairs an entity with its dedicated lock.
type registryEntry struct {
	mu  sync.Mutex
	ent *Entity
}

// NewRegistry creates a new entity registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		entries: make(map[string]*registryEntry),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetOnConfirmed registers the hook invoked after each confirmed mutation.
// The hook must be non-blocking; the notifier's publish path satisfies this.
func (r *Registry) SetOnConfirmed(fn func(Update)) {
	r.onConfirmed = fn
}

// RefreshCache reloads all entities from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	entities, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*registryEntry, len(entities))
	for i := range entities {
		e := entities[i]
		r.entries[e.ID] = &registryEntry{ent: e.DeepCopy()}
	}

	r.logger.Info("entity cache refreshed", "count", len(entities))
	return nil
}

// lookup returns the cache entry for an entity, or nil if absent.
func (r *Registry) lookup(id string) *registryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// Get retrieves an entity by ID.
// Returns ErrNotFound if the entity does not exist.
// The returned entity is a deep copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, id string) (*Entity, error) {
	if entry := r.lookup(id); entry != nil {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.ent.DeepCopy(), nil
	}

	// Fall back to repository (might be a new entity not yet cached)
	ent, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, ok := r.entries[id]; !ok {
		r.entries[id] = &registryEntry{ent: ent.DeepCopy()}
	}
	r.mu.Unlock()

	return ent, nil
}

// List retrieves all entities matching the filter, sorted by ID.
// The returned entities are deep copies; callers can safely modify them.
func (r *Registry) List(_ context.Context, filter Filter) ([]Entity, error) {
	r.mu.RLock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	entities := make([]Entity, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if filter.matches(entry.ent) {
			entities = append(entities, *entry.ent.DeepCopy())
		}
		entry.mu.Unlock()
	}

	sort.Slice(entities, func(i, j int) bool {
		return entities[i].ID < entities[j].ID
	})
	return entities, nil
}

// Count returns the number of cached entities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Create validates and persists a new entity.
// It generates an ID if one is not provided.
func (r *Registry) Create(ctx context.Context, ent *Entity) error {
	if ent.ID == "" {
		ent.ID = GenerateID()
	}

	if err := Validate(ent); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, ent); err != nil {
		return err
	}

	r.mu.Lock()
	r.entries[ent.ID] = &registryEntry{ent: ent.DeepCopy()}
	r.mu.Unlock()

	r.logger.Info("entity created", "id", ent.ID, "name", ent.Name)
	return nil
}

// Update validates and persists changes to entity metadata (name, area,
// classification). Confirmed state travels through ApplyConfirmedUpdate only.
func (r *Registry) Update(ctx context.Context, ent *Entity) error {
	if err := Validate(ent); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, ent); err != nil {
		return err
	}

	entry := r.lookup(ent.ID)
	if entry == nil {
		entry = &registryEntry{}
		r.mu.Lock()
		r.entries[ent.ID] = entry
		r.mu.Unlock()
	}
	entry.mu.Lock()
	entry.ent = ent.DeepCopy()
	entry.mu.Unlock()

	r.logger.Info("entity updated", "id", ent.ID, "name", ent.Name)
	return nil
}

// Delete removes an entity.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()

	r.logger.Info("entity deleted", "id", id)
	return nil
}

// ApplyConfirmedUpdate merges confirmed state fields into an entity.
//
// This is the sole mutation path for entity state. Two invariants hold:
//
//   - Monotonicity: an update whose timestamp is older than the stored
//     LastUpdated is discarded, not applied. This absorbs out-of-order
//     delivery when the command-confirmation path and passive bus
//     observation race on the same entity.
//   - Idempotence: re-applying the identical update (same fields, same
//     timestamp) produces no observable state change.
//
// On success the registered confirmation hook is invoked with the merged
// fields. The hook runs outside the entity lock so publishing can never
// block another writer.
func (r *Registry) ApplyConfirmedUpdate(ctx context.Context, id string, fields State, ts time.Time) error {
	entry := r.lookup(id)
	if entry == nil {
		return ErrNotFound
	}

	entry.mu.Lock()

	if entry.ent.LastUpdated != nil && ts.Before(*entry.ent.LastUpdated) {
		stored := *entry.ent.LastUpdated
		entry.mu.Unlock()
		r.logger.Debug("stale update discarded",
			"entity_id", id,
			"update_ts", ts,
			"stored_ts", stored,
		)
		return nil
	}

	updated := entry.ent.DeepCopy()
	if updated.State == nil {
		updated.State = make(State, len(fields))
	}
	for k, v := range fields {
		updated.State[k] = deepCopyValue(v)
	}
	utc := ts.UTC()
	updated.LastUpdated = &utc

	if err := r.repo.UpdateState(ctx, id, updated.State, utc); err != nil {
		entry.mu.Unlock()
		return fmt.Errorf("persisting state: %w", err)
	}

	entry.ent = updated
	entry.mu.Unlock()

	r.logger.Debug("confirmed update applied", "entity_id", id, "fields", len(fields))

	if r.onConfirmed != nil {
		r.onConfirmed(Update{
			EntityID:  id,
			Fields:    deepCopyState(fields),
			Timestamp: utc,
		})
	}
	return nil
}

// SetAvailability flags an entity as reachable or unreachable on the bus.
func (r *Registry) SetAvailability(ctx context.Context, id string, available bool) error {
	entry := r.lookup(id)
	if entry == nil {
		return ErrNotFound
	}

	if err := r.repo.UpdateAvailability(ctx, id, available); err != nil {
		return err
	}

	entry.mu.Lock()
	updated := entry.ent.DeepCopy()
	updated.Available = available
	entry.ent = updated
	entry.mu.Unlock()

	r.logger.Debug("entity availability updated", "id", id, "available", available)
	return nil
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalEntities int                `json:"total_entities"`
	ByDeviceType  map[DeviceType]int `json:"by_device_type"`
	ByProtocol    map[Protocol]int   `json:"by_protocol"`
	Unavailable   int                `json:"unavailable"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	stats := Stats{
		TotalEntities: len(entries),
		ByDeviceType:  make(map[DeviceType]int),
		ByProtocol:    make(map[Protocol]int),
	}

	for _, entry := range entries {
		entry.mu.Lock()
		stats.ByDeviceType[entry.ent.Type]++
		stats.ByProtocol[entry.ent.Protocol]++
		if !entry.ent.Available {
			stats.Unavailable++
		}
		entry.mu.Unlock()
	}

	return stats
}
