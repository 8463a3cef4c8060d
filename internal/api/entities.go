package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coachsync/coachsync/internal/entity"
)

// entityResponse is an entity as returned by the API. State carries any
// pending optimistic prediction layered over the confirmed state.
type entityResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        entity.DeviceType `json:"type"`
	Protocol    entity.Protocol   `json:"protocol"`
	Area        string            `json:"area,omitempty"`
	State       entity.State      `json:"state"`
	Available   bool              `json:"available"`
	LastUpdated *time.Time        `json:"last_updated,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (s *Server) toResponse(ent *entity.Entity) entityResponse {
	state := ent.State
	if s.reconciler != nil {
		state = s.reconciler.OptimisticState(ent)
	}
	return entityResponse{
		ID:          ent.ID,
		Name:        ent.Name,
		Type:        ent.Type,
		Protocol:    ent.Protocol,
		Area:        ent.Area,
		State:       state,
		Available:   ent.Available,
		LastUpdated: ent.LastUpdated,
		CreatedAt:   ent.CreatedAt,
		UpdatedAt:   ent.UpdatedAt,
	}
}

// Pagination bounds for entity listing.
const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// listEntitiesResponse is the paginated body for GET /api/entities.
type listEntitiesResponse struct {
	Entities   []entityResponse `json:"entities"`
	Count      int              `json:"count"`
	TotalCount int              `json:"total_count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	HasNext    bool             `json:"has_next"`
}

// handleListEntities returns entities filtered by device_type, protocol,
// and area (AND-combined), paginated with page and page_size.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	filter := entity.Filter{
		DeviceType: entity.DeviceType(r.URL.Query().Get("device_type")),
		Protocol:   entity.Protocol(r.URL.Query().Get("protocol")),
		Area:       r.URL.Query().Get("area"),
	}

	entities, err := s.registry.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list entities")
		return
	}

	page := parsePositiveInt(r, "page", 1)
	pageSize := parsePositiveInt(r, "page_size", defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	total := len(entities)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	responses := make([]entityResponse, 0, end-start)
	for i := start; i < end; i++ {
		responses = append(responses, s.toResponse(&entities[i]))
	}

	writeJSON(w, http.StatusOK, listEntitiesResponse{
		Entities:   responses,
		Count:      len(responses),
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		HasNext:    end < total,
	})
}

// handleGetEntity returns a single entity by ID.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ent, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			writeNotFound(w, "entity not found: "+id)
			return
		}
		writeInternalError(w, "failed to get entity")
		return
	}

	writeJSON(w, http.StatusOK, s.toResponse(ent))
}

// createEntityRequest is the body for POST /api/entities.
type createEntityRequest struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name"`
	Type     entity.DeviceType `json:"type"`
	Protocol entity.Protocol   `json:"protocol"`
	Area     string            `json:"area,omitempty"`
	State    entity.State      `json:"state,omitempty"`
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	now := time.Now().UTC()
	ent := &entity.Entity{
		ID:        req.ID,
		Name:      req.Name,
		Type:      req.Type,
		Protocol:  req.Protocol,
		Area:      req.Area,
		State:     req.State,
		Available: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ent.State == nil {
		ent.State = entity.State{}
	}

	if err := s.registry.Create(r.Context(), ent); err != nil {
		switch {
		case errors.Is(err, entity.ErrExists):
			writeConflict(w, "entity already exists: "+ent.ID)
		case errors.Is(err, entity.ErrInvalid):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			writeInternalError(w, "failed to create entity")
		}
		return
	}

	writeJSON(w, http.StatusCreated, s.toResponse(ent))
}

// updateEntityRequest is the body for PATCH /api/entities/{id}.
// Only metadata can be changed here; state changes go through control
// commands or arrive from the bus.
type updateEntityRequest struct {
	Name *string `json:"name,omitempty"`
	Area *string `json:"area,omitempty"`
}

func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	ent, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			writeNotFound(w, "entity not found: "+id)
			return
		}
		writeInternalError(w, "failed to get entity")
		return
	}

	if req.Name != nil {
		ent.Name = *req.Name
	}
	if req.Area != nil {
		ent.Area = *req.Area
	}
	ent.UpdatedAt = time.Now().UTC()

	if err := s.registry.Update(r.Context(), ent); err != nil {
		switch {
		case errors.Is(err, entity.ErrNotFound):
			writeNotFound(w, "entity not found: "+id)
		case errors.Is(err, entity.ErrInvalid):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			writeInternalError(w, "failed to update entity")
		}
		return
	}

	writeJSON(w, http.StatusOK, s.toResponse(ent))
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.registry.Delete(r.Context(), id); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			writeNotFound(w, "entity not found: "+id)
			return
		}
		writeInternalError(w, "failed to delete entity")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleEntityStats returns registry counts broken down by device type
// and protocol.
func (s *Server) handleEntityStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// parsePositiveInt reads a positive integer query parameter, falling back
// to the default when absent or malformed.
func parsePositiveInt(r *http.Request, name string, defaultVal int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}
