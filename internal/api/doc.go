// Package api is the HTTP and WebSocket front end.
//
// It exposes entity CRUD and filtering under /api/entities, single-entity
// control at /api/entities/{id}/control, bulk dispatch at
// /api/v2/entities/bulk-control, bulk operation history under
// /api/operations, health probes at /healthz, /readyz and /startupz, and
// a WebSocket event stream at /ws/entities.
//
// All /api routes require a bearer token with the read scope; control
// endpoints additionally require the control scope and report missing
// authorization as per-target unauthorized results rather than an HTTP
// error, so bulk responses stay uniform.
package api
