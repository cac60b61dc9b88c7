package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/facesvc"
	"github.com/facemark/facemark/internal/recognize"
)

// enrollmentSamples is the number of face images required to register a student.
const enrollmentSamples = 5

// StudentsHandler handles student registration and CRUD endpoints.
type StudentsHandler struct {
	students database.StudentWriter
	faces    *facesvc.Client
	matcher  *recognize.Matcher
}

// NewStudentsHandler creates a new students handler.
func NewStudentsHandler(students database.StudentWriter, faces *facesvc.Client, matcher *recognize.Matcher) *StudentsHandler {
	return &StudentsHandler{
		students: students,
		faces:    faces,
		matcher:  matcher,
	}
}

type registerStudentRequest struct {
	StudentName  string   `json:"studentName"`
	StudentID    string   `json:"studentId"`
	Department   string   `json:"department"`
	Year         string   `json:"year"`
	Division     string   `json:"division"`
	Semester     string   `json:"semester"`
	Email        string   `json:"email"`
	PhoneNumber  string   `json:"phoneNumber"`
	Images       []string `json:"images"`
}

func (req *registerStudentRequest) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"studentName", req.StudentName},
		{"studentId", req.StudentID},
		{"department", req.Department},
		{"year", req.Year},
		{"division", req.Division},
		{"semester", req.Semester},
		{"email", req.Email},
		{"phoneNumber", req.PhoneNumber},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}
	if len(req.Images) != enrollmentSamples {
		return fmt.Errorf("exactly %d images are required", enrollmentSamples)
	}
	return nil
}

// studentJSON is the wire form of a student profile.
type studentJSON struct {
	EnrollmentNo string `json:"student_id"`
	StudentName  string `json:"student_name"`
	Department   string `json:"department"`
	Year         string `json:"year"`
	Division     string `json:"division"`
	Semester     string `json:"semester"`
	Email        string `json:"email"`
	PhoneNumber  string `json:"phone_number"`
	RegisteredAt string `json:"registration_date"`
}

func toStudentJSON(s *database.Student) studentJSON {
	return studentJSON{
		EnrollmentNo: s.EnrollmentNo,
		StudentName:  s.FullName,
		Department:   s.Department,
		Year:         s.Year,
		Division:     s.Division,
		Semester:     s.Semester,
		Email:        s.Email,
		PhoneNumber:  s.PhoneNumber,
		RegisteredAt: s.RegisteredAt.UTC().Format(time.RFC3339),
	}
}

// Register handles student registration with face enrollment. Each of the
// five images must contain exactly one acceptable face; the profile and all
// five embeddings are stored in a single transaction.
func (h *StudentsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := h.students.GetByEnrollment(ctx, req.StudentID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	if existing != nil {
		respondError(w, http.StatusBadRequest, "Student ID already exists")
		return
	}
	existing, err = h.students.GetByEmail(ctx, email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	if existing != nil {
		respondError(w, http.StatusBadRequest, "Email already registered")
		return
	}

	embeddings := make([]database.StudentEmbedding, 0, enrollmentSamples)
	for idx, img := range req.Images {
		data, err := facesvc.DecodeDataURL(img)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid image data at index %d", idx))
			return
		}
		data, err = facesvc.ResizeImage(data, facesvc.MaxFrameSize)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid image data at index %d", idx))
			return
		}

		detected, err := h.faces.DetectFaces(ctx, data)
		if err != nil {
			log.Printf("face detection failed during registration: %v", err)
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to extract face features for image %d", idx+1))
			return
		}
		if detected.FacesCount != 1 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Ensure exactly one face in each image (failed at image %d)", idx+1))
			return
		}
		face := &detected.Faces[0]
		if err := h.matcher.AcceptFace(face); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Image %d rejected: %s", idx+1, err.Error()))
			return
		}

		embeddings = append(embeddings, database.StudentEmbedding{
			SampleIndex: idx,
			Embedding:   face.Embedding,
			DetScore:    face.DetScore,
			Model:       h.faces.Model(),
			Dim:         face.Dim,
		})
	}

	student := &database.Student{
		EnrollmentNo: req.StudentID,
		FullName:     req.StudentName,
		Department:   req.Department,
		Year:         req.Year,
		Division:     req.Division,
		Semester:     req.Semester,
		Email:        email,
		PhoneNumber:  req.PhoneNumber,
		RegisteredAt: time.Now().UTC(),
	}
	if err := h.students.Create(ctx, student, embeddings); err != nil {
		log.Printf("failed to store student %s: %v", sanitizeForLog(req.StudentID), err)
		respondError(w, http.StatusInternalServerError, "Failed to insert student record")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"studentId": student.EnrollmentNo,
		"message":   "Student registered successfully",
		"record_id": student.ID,
	})
}

// Count returns the number of registered students.
func (h *StudentsHandler) Count(w http.ResponseWriter, r *http.Request) {
	count, err := h.students.Count(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get student count")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   count,
	})
}

// Departments returns the distinct departments with registered students.
func (h *StudentsHandler) Departments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.students.Departments(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get departments")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"departments": departments,
		"count":       len(departments),
	})
}

// studentFilterFromQuery builds a class filter from query parameters.
// Name search is normalized so it matches regardless of case or accents.
func studentFilterFromQuery(r *http.Request) database.StudentFilter {
	q := r.URL.Query()
	return database.StudentFilter{
		Department: q.Get("department"),
		Year:       q.Get("year"),
		Division:   q.Get("division"),
		Name:       recognize.NormalizeStudentName(q.Get("name")),
	}
}

// List returns students matching the optional class filters.
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	students, err := h.students.List(r.Context(), studentFilterFromQuery(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list students")
		return
	}

	out := make([]studentJSON, 0, len(students))
	for i := range students {
		out = append(out, toStudentJSON(&students[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"students": out,
		"count":    len(out),
	})
}

// Get returns a single student by enrollment number.
func (h *StudentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	enrollment := chi.URLParam(r, "enrollment")
	student, err := h.students.GetByEnrollment(r.Context(), enrollment)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch student")
		return
	}
	if student == nil {
		respondError(w, http.StatusNotFound, "Student not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"student": toStudentJSON(student),
	})
}

type updateStudentRequest struct {
	StudentName string `json:"studentName"`
	Department  string `json:"department"`
	Year        string `json:"year"`
	Division    string `json:"division"`
	Semester    string `json:"semester"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

// Update modifies a student's profile fields. Enrollment embeddings are
// immutable; re-enrollment requires delete and register.
func (h *StudentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	enrollment := chi.URLParam(r, "enrollment")
	student, err := h.students.GetByEnrollment(r.Context(), enrollment)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch student")
		return
	}
	if student == nil {
		respondError(w, http.StatusNotFound, "Student not found")
		return
	}

	var req updateStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if req.StudentName != "" {
		student.FullName = req.StudentName
	}
	if req.Department != "" {
		student.Department = req.Department
	}
	if req.Year != "" {
		student.Year = req.Year
	}
	if req.Division != "" {
		student.Division = req.Division
	}
	if req.Semester != "" {
		student.Semester = req.Semester
	}
	if req.Email != "" {
		student.Email = strings.ToLower(strings.TrimSpace(req.Email))
	}
	if req.PhoneNumber != "" {
		student.PhoneNumber = req.PhoneNumber
	}

	if err := h.students.Update(r.Context(), student); err != nil {
		log.Printf("failed to update student %s: %v", sanitizeForLog(enrollment), err)
		respondError(w, http.StatusInternalServerError, "Failed to update student")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Student updated successfully",
		"student": toStudentJSON(student),
	})
}

// Delete removes a student and its enrollment embeddings.
func (h *StudentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	enrollment := chi.URLParam(r, "enrollment")
	student, err := h.students.GetByEnrollment(r.Context(), enrollment)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch student")
		return
	}
	if student == nil {
		respondError(w, http.StatusNotFound, "Student not found")
		return
	}

	if _, err := h.students.Delete(r.Context(), enrollment); err != nil {
		log.Printf("failed to delete student %s: %v", sanitizeForLog(enrollment), err)
		respondError(w, http.StatusInternalServerError, "Failed to delete student")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Student deleted successfully",
	})
}
