package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/facemark/facemark/internal/facesvc"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response in the {success, error} envelope
// the frontend expects.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// NotFound is the JSON 404 handler for unknown API routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "endpoint not found")
}

// MethodNotAllowed is the JSON 405 handler.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// DatabasePinger reports whether the database is reachable.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service, database and face service health.
type HealthHandler struct {
	db    DatabasePinger
	faces *facesvc.Client
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db DatabasePinger, faces *facesvc.Client) *HealthHandler {
	return &HealthHandler{db: db, faces: faces}
}

// Check handles the health check endpoint.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	databaseOK := false
	if h.db != nil {
		databaseOK = h.db.Ping(ctx) == nil
	}
	faceServiceOK := false
	if h.faces != nil {
		faceServiceOK = h.faces.Health(ctx) == nil
	}

	status := "healthy"
	if !databaseOK || !faceServiceOK {
		status = "unhealthy"
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"database":     databaseOK,
		"face_service": faceServiceOK,
		"timestamp":    time.Now().Unix(),
	})
}
