package handlers

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/facesvc"
	"github.com/facemark/facemark/internal/recognize"
)

// Per-face outcomes of a marking attempt.
const (
	faceMarkedPresent = "marked_present"
	faceDuplicate     = "duplicate"
	faceNoMatch       = "no_match"
	faceError         = "error"
	faceMatched       = "matched" // demo recognition only
)

// AttendanceHandler handles attendance marking and record endpoints.
type AttendanceHandler struct {
	sessions database.SessionStore
	records  database.RecordStore
	faces    *facesvc.Client
	matcher  *recognize.Matcher
	now      func() time.Time
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(sessions database.SessionStore, records database.RecordStore, faces *facesvc.Client, matcher *recognize.Matcher) *AttendanceHandler {
	return &AttendanceHandler{
		sessions: sessions,
		records:  records,
		faces:    faces,
		matcher:  matcher,
		now:      time.Now,
	}
}

type markRequest struct {
	SessionID string `json:"session_id"`
	Image     string `json:"image"`
}

// matchJSON identifies the matched student in a face result.
type matchJSON struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// faceResult is the outcome for a single detected face.
type faceResult struct {
	Match         *matchJSON `json:"match"`
	Distance      *float64   `json:"distance"`
	Confidence    *float64   `json:"confidence,omitempty"`
	Box           []int      `json:"box"`
	Status        string     `json:"status"`
	Message       string     `json:"message,omitempty"`
	AlreadyMarked bool       `json:"already_marked,omitempty"`
	MarkedAt      string     `json:"marked_at,omitempty"`
}

// boxFromFace converts the face service's [x1, y1, x2, y2] bbox into the
// [x, y, w, h] form the frontend draws.
func boxFromFace(f *facesvc.Face) []int {
	if len(f.BBox) != 4 {
		return []int{0, 0, 0, 0}
	}
	x := int(math.Max(0, f.BBox[0]))
	y := int(math.Max(0, f.BBox[1]))
	w := int(f.BBox[2] - f.BBox[0])
	h := int(f.BBox[3] - f.BBox[1])
	return []int{x, y, w, h}
}

func round4(v float64) *float64 {
	r := math.Round(v*10000) / 10000
	return &r
}

func round1(v float64) *float64 {
	r := math.Round(v*10) / 10
	return &r
}

// Mark handles camera-frame attendance marking. Every detected face is
// matched and marked independently; duplicates are reported per face, not
// as request failures. A concurrent mark of the same student is caught by
// the uniqueness constraint and classified as a duplicate.
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SessionID == "" || req.Image == "" {
		respondError(w, http.StatusBadRequest, "Missing session_id or image")
		return
	}

	ctx := r.Context()
	session, err := h.sessions.GetByCode(ctx, req.SessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	if session.Overdue(h.now()) {
		if _, err := h.sessions.End(ctx, session.Code); err == nil {
			session.Status = database.SessionEnded
		}
	}
	if session.Status != database.SessionActive {
		respondError(w, http.StatusBadRequest, "Session is not active")
		return
	}

	frame, err := facesvc.DecodeDataURL(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid base64 image")
		return
	}
	frame, err = facesvc.ResizeImage(frame, facesvc.MaxFrameSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid base64 image")
		return
	}

	detected, err := h.faces.DetectFaces(ctx, frame)
	if err != nil {
		log.Printf("face detection failed for session %s: %v", sanitizeForLog(req.SessionID), err)
		respondError(w, http.StatusServiceUnavailable, "Face recognition service unavailable")
		return
	}

	if len(detected.Faces) == 0 {
		respondJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"message":         "No faces detected",
			"faces":           []faceResult{},
			"processing_time": math.Round(h.now().Sub(start).Seconds()*1000) / 1000,
		})
		return
	}

	results := make([]faceResult, 0, len(detected.Faces))
	markedCount, duplicateCount := 0, 0
	for i := range detected.Faces {
		res := h.markFace(r, session, &detected.Faces[i])
		switch res.Status {
		case faceMarkedPresent:
			markedCount++
		case faceDuplicate:
			duplicateCount++
		}
		results = append(results, res)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"session_id":      session.Code,
		"faces":           results,
		"processing_time": math.Round(h.now().Sub(start).Seconds()*1000) / 1000,
		"summary": map[string]int{
			"total_faces":         len(results),
			"successful_markings": markedCount,
			"duplicate_attempts":  duplicateCount,
			"no_matches":          len(results) - markedCount - duplicateCount,
		},
	})
}

// markFace matches one face and inserts its attendance record.
func (h *AttendanceHandler) markFace(r *http.Request, session *database.AttendanceSession, face *facesvc.Face) faceResult {
	ctx := r.Context()
	box := boxFromFace(face)

	if err := h.matcher.AcceptFace(face); err != nil {
		return faceResult{
			Box:     box,
			Status:  faceError,
			Message: err.Error(),
		}
	}

	match, err := h.matcher.Match(ctx, face.Embedding)
	if err != nil {
		log.Printf("match failed in session %s: %v", sanitizeForLog(session.Code), err)
		return faceResult{
			Box:     box,
			Status:  faceError,
			Message: "Failed to match face",
		}
	}
	if match == nil {
		return faceResult{
			Box:     box,
			Status:  faceNoMatch,
			Message: "Face not recognized - please ensure you are registered",
		}
	}

	identified := &matchJSON{UserID: match.EnrollmentNo, Name: match.StudentName}

	// Cheap pre-check; the uniqueness constraint still decides under races.
	marked, err := h.records.IsMarked(ctx, session.ID, match.EnrollmentNo)
	if err == nil && marked {
		return faceResult{
			Match:         identified,
			Distance:      round4(match.Distance),
			Confidence:    round1(match.Confidence),
			Box:           box,
			Status:        faceDuplicate,
			AlreadyMarked: true,
			Message:       fmt.Sprintf("%s is already marked present in this session", match.StudentName),
		}
	}

	record := &database.AttendanceRecord{
		SessionID:    session.ID,
		StudentID:    match.StudentID,
		EnrollmentNo: match.EnrollmentNo,
		StudentName:  match.StudentName,
		Status:       database.RecordPresent,
		Confidence:   *round1(match.Confidence),
		MarkedAt:     h.now().UTC(),
	}
	err = h.records.Insert(ctx, record)
	switch {
	case errors.Is(err, database.ErrDuplicateRecord):
		return faceResult{
			Match:         identified,
			Distance:      round4(match.Distance),
			Confidence:    round1(match.Confidence),
			Box:           box,
			Status:        faceDuplicate,
			AlreadyMarked: true,
			Message:       fmt.Sprintf("%s is already marked present in this session", match.StudentName),
		}
	case errors.Is(err, database.ErrSessionNotActive):
		return faceResult{
			Match:   identified,
			Box:     box,
			Status:  faceError,
			Message: "Session is not active",
		}
	case err != nil:
		log.Printf("failed to mark %s in session %s: %v",
			sanitizeForLog(match.EnrollmentNo), sanitizeForLog(session.Code), err)
		return faceResult{
			Match:   identified,
			Box:     box,
			Status:  faceError,
			Message: fmt.Sprintf("Failed to mark %s as present", match.StudentName),
		}
	}

	return faceResult{
		Match:      identified,
		Distance:   round4(match.Distance),
		Confidence: round1(match.Confidence),
		Box:        box,
		Status:     faceMarkedPresent,
		MarkedAt:   record.MarkedAt.Format(time.RFC3339),
		Message:    fmt.Sprintf("%s marked present successfully", match.StudentName),
	}
}

// recordJSON is the wire form of an attendance record.
type recordJSON struct {
	ID           string  `json:"id"`
	EnrollmentNo string  `json:"student_id"`
	StudentName  string  `json:"student_name"`
	Status       string  `json:"status"`
	Confidence   float64 `json:"confidence"`
	MarkedAt     string  `json:"marked_at"`
	CreatedAt    string  `json:"created_at"`
}

func toRecordJSON(rec *database.AttendanceRecord) recordJSON {
	return recordJSON{
		ID:           rec.ID,
		EnrollmentNo: rec.EnrollmentNo,
		StudentName:  rec.StudentName,
		Status:       rec.Status,
		Confidence:   rec.Confidence,
		MarkedAt:     rec.MarkedAt.UTC().Format(time.RFC3339),
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// SessionAttendance returns a session's info and its records, newest first.
func (h *AttendanceHandler) SessionAttendance(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	session, err := h.sessions.GetByCode(r.Context(), code)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch attendance")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	records, err := h.records.ListBySession(r.Context(), session.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch attendance")
		return
	}

	out := make([]recordJSON, 0, len(records))
	for i := range records {
		out = append(out, toRecordJSON(&records[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": session.Code,
		"session_info": map[string]any{
			"subject":    session.Subject,
			"department": session.Department,
			"year":       session.Year,
			"division":   session.Division,
			"date":       session.Date,
			"status":     session.Status,
			"start_time": session.StartedAt.UTC().Format(time.RFC3339),
			"end_time":   session.EndsAt.UTC().Format(time.RFC3339),
		},
		"attendance_records": out,
		"total_present":      len(out),
		"last_updated":       h.now().UTC().Format(time.RFC3339),
	})
}

// ExportCSV streams a session's attendance records as a CSV download.
func (h *AttendanceHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	session, err := h.sessions.GetByCode(r.Context(), code)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to export attendance")
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	records, err := h.records.ListBySession(r.Context(), session.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to export attendance")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "attendance_"+session.Code+".csv"))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write([]string{"enrollment_no", "student_name", "subject", "date", "status", "confidence", "marked_at"})
	for i := range records {
		rec := &records[i]
		cw.Write([]string{
			rec.EnrollmentNo,
			rec.StudentName,
			session.Subject,
			session.Date,
			rec.Status,
			strconv.FormatFloat(rec.Confidence, 'f', 1, 64),
			rec.MarkedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
}

// MyAttendance returns a student's attendance history across sessions.
func (h *AttendanceHandler) MyAttendance(w http.ResponseWriter, r *http.Request) {
	enrollment := chi.URLParam(r, "enrollment")
	records, err := h.records.ListByEnrollment(r.Context(), enrollment)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch attendance history")
		return
	}

	out := make([]recordJSON, 0, len(records))
	for i := range records {
		out = append(out, toRecordJSON(&records[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"student_id": enrollment,
		"records":    out,
		"count":      len(out),
	})
}
