package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coachsync/coachsync/internal/auth"
	"github.com/coachsync/coachsync/internal/command"
)

// controlRequest is the body for POST /api/entities/{id}/control.
// The command fields are inline; TimeoutSeconds overrides the default
// command timeout, bounded by the configured maximum.
type controlRequest struct {
	command.Command
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// handleControl dispatches a single command to one entity. The outcome
// travels in the result body; only request-level problems (bad JSON,
// invalid command, unknown entity) use error status codes.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	if err := req.Command.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	claims := claimsFromContext(r.Context())
	if claims == nil || !claims.HasScope(auth.ScopeControl) {
		writeJSON(w, http.StatusOK, command.Result{
			EntityID:     id,
			Status:       command.StatusUnauthorized,
			ErrorCode:    command.CodeUnauthorized,
			ErrorMessage: "control scope required",
		})
		return
	}

	s.predict(r, id, req.Command)

	result := s.dispatcher.Dispatch(r.Context(), id, req.Command, time.Duration(req.TimeoutSeconds)*time.Second)
	if result.ErrorCode == command.CodeNotFound {
		writeNotFound(w, "entity not found: "+id)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// predict records an optimistic prediction so reads reflect the expected
// outcome while the command is in flight. Failures here are silent; the
// dispatch itself reports any real problem.
func (s *Server) predict(r *http.Request, entityID string, cmd command.Command) {
	if s.reconciler == nil {
		return
	}
	ent, err := s.registry.Get(r.Context(), entityID)
	if err != nil || !ent.Available {
		return
	}
	target := command.TargetState(ent, cmd)
	if len(target) == 0 {
		return
	}
	//nolint:errcheck // Prediction is advisory; the dispatch result is authoritative
	s.reconciler.Predict(r.Context(), entityID, target)
}

// bulkControlRequest is the body for POST /api/v2/entities/bulk-control.
type bulkControlRequest struct {
	EntityIDs      []string        `json:"entity_ids"`
	Command        command.Command `json:"command"`
	IgnoreErrors   bool            `json:"ignore_errors"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
}

// handleBulkControl dispatches one command to many entities. Responses:
//
//	200 - every target succeeded
//	207 - mixed per-target outcomes; inspect the results array
//	400 - the request itself was rejected, nothing was dispatched
func (s *Server) handleBulkControl(w http.ResponseWriter, r *http.Request) {
	var req bulkControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	claims := claimsFromContext(r.Context())
	if claims == nil || !claims.HasScope(auth.ScopeControl) {
		s.writeBulkUnauthorized(w, req)
		return
	}

	bulkReq := command.BulkRequest{
		EntityIDs:    req.EntityIDs,
		Command:      req.Command,
		IgnoreErrors: req.IgnoreErrors,
		Timeout:      time.Duration(req.TimeoutSeconds) * time.Second,
	}

	// A rejected request dispatches nothing, so it must not leave
	// optimistic predictions behind either.
	if err := s.bulk.Validate(bulkReq); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	for _, id := range req.EntityIDs {
		s.predict(r, id, req.Command)
	}

	result, err := s.bulk.Execute(r.Context(), bulkReq)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	status := http.StatusOK
	if !result.AllSucceeded() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

// writeBulkUnauthorized reports every target as unauthorized without
// touching the dispatcher.
func (s *Server) writeBulkUnauthorized(w http.ResponseWriter, req bulkControlRequest) {
	results := make([]command.Result, 0, len(req.EntityIDs))
	for _, id := range req.EntityIDs {
		results = append(results, command.Result{
			EntityID:     id,
			Status:       command.StatusUnauthorized,
			ErrorCode:    command.CodeUnauthorized,
			ErrorMessage: "control scope required",
		})
	}
	writeJSON(w, http.StatusMultiStatus, command.BulkResult{
		TotalCount:  len(results),
		FailedCount: len(results),
		Results:     results,
	})
}

// handleListOperations returns recent bulk operations, newest first.
func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	if s.operations == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "operation history not configured")
		return
	}

	ops, err := s.operations.ListOperations(r.Context(), parsePositiveInt(r, "limit", 50))
	if err != nil {
		writeInternalError(w, "failed to list operations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operations": ops,
		"count":      len(ops),
	})
}

// handleGetOperation returns one bulk operation with its per-target results.
func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	if s.operations == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "operation history not configured")
		return
	}

	id := chi.URLParam(r, "id")
	op, err := s.operations.GetOperation(r.Context(), id)
	if err != nil {
		if errors.Is(err, command.ErrOperationNotFound) {
			writeNotFound(w, "operation not found: "+id)
			return
		}
		writeInternalError(w, "failed to get operation")
		return
	}

	writeJSON(w, http.StatusOK, op)
}
