package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/facemark/facemark/internal/database"
)

// Session duration limits in minutes.
const (
	minSessionDuration     = 5
	maxSessionDuration     = 120
	defaultSessionDuration = 20
)

// SessionsHandler handles attendance session lifecycle endpoints.
type SessionsHandler struct {
	sessions database.SessionStore
	students database.StudentReader
	now      func() time.Time
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(sessions database.SessionStore, students database.StudentReader) *SessionsHandler {
	return &SessionsHandler{
		sessions: sessions,
		students: students,
		now:      time.Now,
	}
}

type createSessionRequest struct {
	Subject         string `json:"subject"`
	Department      string `json:"department"`
	Year            string `json:"year"`
	Division        string `json:"division"`
	Date            string `json:"date"`
	DurationMinutes int    `json:"duration_minutes"`
}

// sessionJSON is the wire form of an attendance session.
type sessionJSON struct {
	SessionID       string `json:"session_id"`
	Subject         string `json:"subject"`
	Department      string `json:"department"`
	Year            string `json:"year"`
	Division        string `json:"division"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	EndedAt         string `json:"ended_at,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
}

func toSessionJSON(s *database.AttendanceSession) sessionJSON {
	out := sessionJSON{
		SessionID:       s.Code,
		Subject:         s.Subject,
		Department:      s.Department,
		Year:            s.Year,
		Division:        s.Division,
		Date:            s.Date,
		StartTime:       s.StartedAt.UTC().Format(time.RFC3339),
		EndTime:         s.EndsAt.UTC().Format(time.RFC3339),
		DurationMinutes: s.DurationMinutes,
		Status:          s.Status,
	}
	if s.EndedAt != nil {
		out.EndedAt = s.EndedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// rosterEntry is one student preloaded into a freshly created session.
type rosterEntry struct {
	EnrollmentNo string  `json:"student_id"`
	StudentName  string  `json:"student_name"`
	Present      bool    `json:"present"`
	MarkedAt     *string `json:"marked_at"`
}

// Create starts a new attendance session and schedules its auto-close.
// The response includes a roster preview of the students in the class.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = defaultSessionDuration
	}
	if duration < minSessionDuration || duration > maxSessionDuration {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("Duration must be between %d-%d minutes", minSessionDuration, maxSessionDuration))
		return
	}

	now := h.now()
	session := &database.AttendanceSession{
		Code:            fmt.Sprintf("session_%d", now.Unix()),
		Subject:         req.Subject,
		Department:      req.Department,
		Year:            req.Year,
		Division:        req.Division,
		Date:            req.Date,
		StartedAt:       now,
		EndsAt:          now.Add(time.Duration(duration) * time.Minute),
		DurationMinutes: duration,
		Status:          database.SessionActive,
	}
	if err := h.sessions.Create(r.Context(), session); err != nil {
		log.Printf("failed to create session: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	roster := h.rosterPreview(r.Context(), req.Department, req.Year, req.Division)
	h.scheduleAutoClose(session.Code, time.Duration(duration)*time.Minute)

	payload := map[string]any{
		"session_id":         session.Code,
		"subject":            session.Subject,
		"department":         session.Department,
		"year":               session.Year,
		"division":           session.Division,
		"date":               session.Date,
		"duration_minutes":   session.DurationMinutes,
		"created_at":         session.StartedAt.UTC().Format(time.RFC3339),
		"scheduled_end_time": session.EndsAt.UTC().Format(time.RFC3339),
		"status":             session.Status,
		"students":           roster,
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": payload,
		"message": fmt.Sprintf("Session created with %d students, auto-close in %d minutes", len(roster), duration),
	})
}

// rosterPreview lists the students in the session's class. A failure here
// never fails session creation; the preview is informational.
func (h *SessionsHandler) rosterPreview(ctx context.Context, department, year, division string) []rosterEntry {
	filter := database.StudentFilter{Department: department, Year: year, Division: division}
	if filter.IsZero() {
		return []rosterEntry{}
	}
	students, err := h.students.List(ctx, filter)
	if err != nil {
		log.Printf("roster preview failed: %v", err)
		return []rosterEntry{}
	}
	roster := make([]rosterEntry, 0, len(students))
	for _, s := range students {
		roster = append(roster, rosterEntry{
			EnrollmentNo: s.EnrollmentNo,
			StudentName:  s.FullName,
		})
	}
	return roster
}

// scheduleAutoClose ends the session promptly when its time runs out.
// The database end-overdue sweep remains the authority if the process
// restarts before the timer fires.
func (h *SessionsHandler) scheduleAutoClose(code string, after time.Duration) {
	time.AfterFunc(after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ended, err := h.sessions.End(ctx, code)
		if err != nil {
			log.Printf("auto-close of session %s failed: %v", sanitizeForLog(code), err)
			return
		}
		if ended {
			log.Printf("session %s auto-closed", sanitizeForLog(code))
		}
	})
}

// Active lists active sessions, optionally filtered by class.
func (h *SessionsHandler) Active(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.StudentFilter{
		Department: q.Get("department"),
		Year:       q.Get("year"),
		Division:   q.Get("division"),
	}
	sessions, err := h.sessions.ListActive(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch sessions")
		return
	}

	out := make([]sessionJSON, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionJSON(&sessions[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": out,
		"count":    len(out),
	})
}

// Status returns a session's status and remaining minutes. An active
// session past its scheduled end is ended here rather than waiting for
// the timer, so the reported status is authoritative.
func (h *SessionsHandler) Status(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	session, err := h.sessions.GetByCode(r.Context(), code)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get session status")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	now := h.now()
	if session.Overdue(now) {
		if _, err := h.sessions.End(r.Context(), code); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to get session status")
			return
		}
		session.Status = database.SessionEnded
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"session_id":         session.Code,
		"status":             session.Status,
		"remaining_minutes":  session.RemainingMinutes(now),
		"total_duration":     session.DurationMinutes,
		"scheduled_end_time": session.EndsAt.UTC().Format(time.RFC3339),
	})
}

type endSessionRequest struct {
	SessionID string `json:"session_id"`
}

// End explicitly ends a session.
func (h *SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "Missing session_id")
		return
	}

	ended, err := h.sessions.End(r.Context(), req.SessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to end session")
		return
	}
	if !ended {
		// Either the code is unknown or the session already ended.
		session, err := h.sessions.GetByCode(r.Context(), req.SessionID)
		if err == nil && session != nil {
			respondJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"message": "Session already ended",
			})
			return
		}
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session ended successfully",
	})
}
