// Package auth implements token-based authorisation for the API.
//
// Access is granted through signed JWTs (HS256) carrying a list of scopes.
// Read endpoints require the "read" scope; command dispatch requires
// "control". A request whose token lacks the control scope surfaces as an
// unauthorized command result rather than a transport error, so bulk
// operations can report per-target authorisation failures.
package auth
