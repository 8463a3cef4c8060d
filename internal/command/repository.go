package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Operation is the persisted audit record of a bulk operation.
type Operation struct {
	ID           string    `json:"id"`
	Command      Command   `json:"command"`
	TotalCount   int       `json:"total_count"`
	SuccessCount int       `json:"success_count"`
	FailedCount  int       `json:"failed_count"`
	IgnoreErrors bool      `json:"ignore_errors"`
	TotalTimeMS  int64     `json:"total_execution_time_ms"`
	CreatedAt    time.Time `json:"created_at"`
	Results      []Result  `json:"results,omitempty"`
}

// newOperation builds the audit record for a finished bulk operation.
func newOperation(req BulkRequest, result *BulkResult) *Operation {
	return &Operation{
		ID:           result.OperationID,
		Command:      req.Command,
		TotalCount:   result.TotalCount,
		SuccessCount: result.SuccessCount,
		FailedCount:  result.FailedCount,
		IgnoreErrors: req.IgnoreErrors,
		TotalTimeMS:  result.TotalTimeMS,
		CreatedAt:    time.Now().UTC(),
		Results:      result.Results,
	}
}

// OperationRepository persists bulk operation audit records.
type OperationRepository interface {
	// SaveOperation stores an operation and its per-target results.
	SaveOperation(ctx context.Context, op *Operation) error

	// GetOperation retrieves an operation with its results.
	// Returns ErrOperationNotFound if the ID does not exist.
	GetOperation(ctx context.Context, id string) (*Operation, error)

	// ListOperations retrieves the most recent operations, newest first,
	// without per-target results.
	ListOperations(ctx context.Context, limit int) ([]Operation, error)
}

// SQLiteOperationRepository implements OperationRepository using SQLite.
type SQLiteOperationRepository struct {
	db *sql.DB
}

// NewSQLiteOperationRepository creates a SQLite-backed operation repository.
func NewSQLiteOperationRepository(db *sql.DB) *SQLiteOperationRepository {
	return &SQLiteOperationRepository{db: db}
}

// SaveOperation stores an operation and its per-target results atomically.
func (r *SQLiteOperationRepository) SaveOperation(ctx context.Context, op *Operation) error {
	cmdJSON, err := json.Marshal(op.Command)
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bulk_operations (id, command, total_count, success_count, failed_count, ignore_errors, total_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(cmdJSON), op.TotalCount, op.SuccessCount, op.FailedCount,
		boolToInt(op.IgnoreErrors), op.TotalTimeMS, op.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting operation: %w", err)
	}

	for _, res := range op.Results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO operation_results (operation_id, entity_id, status, error_code, error_message, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)`,
			op.ID, res.EntityID, string(res.Status), res.ErrorCode, res.ErrorMessage, res.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("inserting operation result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing operation: %w", err)
	}
	return nil
}

// GetOperation retrieves an operation with its results.
func (r *SQLiteOperationRepository) GetOperation(ctx context.Context, id string) (*Operation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, command, total_count, success_count, failed_count, ignore_errors, total_time_ms, created_at
		FROM bulk_operations WHERE id = ?`, id)

	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOperationNotFound
		}
		return nil, fmt.Errorf("querying operation: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_id, status, error_code, error_message, duration_ms
		FROM operation_results WHERE operation_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying operation results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var res Result
		var status string
		if err := rows.Scan(&res.EntityID, &status, &res.ErrorCode, &res.ErrorMessage, &res.DurationMS); err != nil {
			return nil, fmt.Errorf("scanning operation result: %w", err)
		}
		res.Status = Status(status)
		op.Results = append(op.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operation results: %w", err)
	}

	return op, nil
}

// ListOperations retrieves the most recent operations, newest first.
func (r *SQLiteOperationRepository) ListOperations(ctx context.Context, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, command, total_count, success_count, failed_count, ignore_errors, total_time_ms, created_at
		FROM bulk_operations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, scanErr := scanOperation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning operation: %w", scanErr)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operations: %w", err)
	}
	return ops, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(s rowScanner) (*Operation, error) {
	var (
		op           Operation
		cmdJSON      string
		ignoreErrors int
		createdAt    string
	)
	if err := s.Scan(&op.ID, &cmdJSON, &op.TotalCount, &op.SuccessCount,
		&op.FailedCount, &ignoreErrors, &op.TotalTimeMS, &createdAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(cmdJSON), &op.Command); err != nil {
		return nil, fmt.Errorf("unmarshalling command: %w", err)
	}
	op.IgnoreErrors = ignoreErrors != 0

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	op.CreatedAt = ts

	return &op, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
