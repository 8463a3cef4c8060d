package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for entity persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves an entity by its unique identifier.
	// Returns ErrNotFound if the entity does not exist.
	GetByID(ctx context.Context, id string) (*Entity, error)

	// List retrieves all entities.
	List(ctx context.Context) ([]Entity, error)

	// Create inserts a new entity.
	// Returns ErrExists if an entity with the same ID already exists.
	Create(ctx context.Context, ent *Entity) error

	// Update modifies an existing entity.
	// Returns ErrNotFound if the entity does not exist.
	Update(ctx context.Context, ent *Entity) error

	// Delete removes an entity by ID.
	// Returns ErrNotFound if the entity does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState updates only the state fields and last-updated timestamp.
	// This is optimised for frequent confirmed updates from the bus.
	UpdateState(ctx context.Context, id string, state State, lastUpdated time.Time) error

	// UpdateAvailability updates the availability flag.
	UpdateAvailability(ctx context.Context, id string, available bool) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entityColumns = `id, name, device_type, protocol, area, state, available, last_updated, created_at, updated_at`

// GetByID retrieves an entity by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Entity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)

	ent, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying entity by id: %w", err)
	}
	return ent, nil
}

// List retrieves all entities ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		ent, scanErr := scanEntity(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning entity row: %w", scanErr)
		}
		entities = append(entities, *ent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return entities, nil
}

// Create inserts a new entity.
func (r *SQLiteRepository) Create(ctx context.Context, ent *Entity) error {
	stateJSON, err := json.Marshal(ent.State)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	now := time.Now().UTC()
	if ent.CreatedAt.IsZero() {
		ent.CreatedAt = now
	}
	ent.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, device_type, protocol, area, state, available, last_updated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ent.ID, ent.Name, string(ent.Type), string(ent.Protocol), ent.Area,
		string(stateJSON), boolToInt(ent.Available), timePtrToString(ent.LastUpdated),
		ent.CreatedAt.Format(time.RFC3339Nano), ent.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting entity: %w", err)
	}
	return nil
}

// Update modifies an existing entity.
func (r *SQLiteRepository) Update(ctx context.Context, ent *Entity) error {
	stateJSON, err := json.Marshal(ent.State)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	ent.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE entities
		SET name = ?, device_type = ?, protocol = ?, area = ?, state = ?,
			available = ?, last_updated = ?, updated_at = ?
		WHERE id = ?`,
		ent.Name, string(ent.Type), string(ent.Protocol), ent.Area,
		string(stateJSON), boolToInt(ent.Available), timePtrToString(ent.LastUpdated),
		ent.UpdatedAt.Format(time.RFC3339Nano), ent.ID,
	)
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	return requireRowAffected(result)
}

// Delete removes an entity by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateState updates only the state fields and last-updated timestamp.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State, lastUpdated time.Time) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE entities
		SET state = ?, last_updated = ?, updated_at = ?
		WHERE id = ?`,
		string(stateJSON),
		lastUpdated.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating entity state: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateAvailability updates the availability flag.
func (r *SQLiteRepository) UpdateAvailability(ctx context.Context, id string, available bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE entities SET available = ?, updated_at = ? WHERE id = ?`,
		boolToInt(available),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating entity availability: %w", err)
	}
	return requireRowAffected(result)
}

// scanner abstracts sql.Row and sql.Rows for scanEntity.
type scanner interface {
	Scan(dest ...any) error
}

// scanEntity scans a single entity row.
func scanEntity(s scanner) (*Entity, error) {
	var (
		ent         Entity
		deviceType  string
		protocol    string
		stateJSON   string
		available   int
		lastUpdated sql.NullString
		createdAt   string
		updatedAt   string
	)

	if err := s.Scan(
		&ent.ID, &ent.Name, &deviceType, &protocol, &ent.Area,
		&stateJSON, &available, &lastUpdated, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	ent.Type = DeviceType(deviceType)
	ent.Protocol = Protocol(protocol)
	ent.Available = available != 0

	if err := json.Unmarshal([]byte(stateJSON), &ent.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}

	if lastUpdated.Valid && lastUpdated.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, lastUpdated.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_updated: %w", err)
		}
		ent.LastUpdated = &ts
	}

	var err error
	ent.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	ent.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &ent, nil
}

// requireRowAffected converts a zero-rows-affected result into ErrNotFound.
func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueConstraintError reports whether the error is a SQLite unique
// constraint violation (duplicate primary key).
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// boolToInt converts a bool to SQLite's integer representation.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timePtrToString formats an optional timestamp for storage.
func timePtrToString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
