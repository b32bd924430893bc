// Package api exposes the ledger over HTTP: read endpoints for verdicts,
// spread history and alerts, submission endpoints for authorized nodes,
// and admin endpoints for registry and rule management.
//
// All error responses are RFC 7807 Problem Details.
package api

import (
	"net/http"

	"github.com/sentinelmesh/core/pkg/api/problem"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail = problem.ProblemDetail

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	problem.WriteError(w, status, title, detail)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	problem.WriteBadRequest(w, detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	problem.WriteUnauthorized(w, detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	problem.WriteForbidden(w, detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	problem.WriteNotFound(w, detail)
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, detail string) {
	problem.WriteConflict(w, detail)
}

// WriteTooManyRequests writes a 429 with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSec int) {
	problem.WriteTooManyRequests(w, retryAfterSec)
}

// WriteInternalError writes a 500 error response.
func WriteInternalError(w http.ResponseWriter, detail string) {
	problem.WriteInternalError(w, detail)
}

// WriteJSON writes a success response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	problem.WriteJSON(w, status, v)
}
