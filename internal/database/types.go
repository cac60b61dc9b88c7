package database

import (
	"time"
)

// Session status values for attendance_sessions.status.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Record status values for attendance_records.status.
const (
	RecordPresent = "present"
)

// User roles stored in users.role.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

// User is an authentication account. A person may hold both a student
// and a teacher account under the same email.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Student is a registered student profile. Face embeddings captured at
// enrollment live in student_embeddings, one row per sample image.
type Student struct {
	ID           string
	EnrollmentNo string
	FullName     string
	Department   string
	Year         string
	Division     string
	Semester     string
	Email        string
	PhoneNumber  string
	RegisteredAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StudentEmbedding is a single face embedding captured during enrollment.
// EnrollmentNo and StudentName are denormalized copies so similarity
// search results can be reported without a second lookup.
type StudentEmbedding struct {
	ID           int64
	StudentID    string
	EnrollmentNo string
	StudentName  string
	SampleIndex  int
	Embedding    []float32
	DetScore     float64
	Model        string
	Dim          int
	CreatedAt    time.Time
}

// AttendanceSession is one class period during which attendance can be
// marked. Code is the human-readable identifier exposed to clients
// (e.g. "session_1717171717"); ID is the database UUID.
type AttendanceSession struct {
	ID              string
	Code            string
	Subject         string
	Department      string
	Year            string
	Division        string
	Date            string
	StartedAt       time.Time
	EndsAt          time.Time
	EndedAt         *time.Time
	DurationMinutes int
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RemainingMinutes returns the whole minutes left before the session's
// scheduled end, clamped at zero.
func (s *AttendanceSession) RemainingMinutes(now time.Time) int {
	if s.Status != SessionActive {
		return 0
	}
	remaining := s.EndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Minutes())
}

// Overdue reports whether an active session has passed its scheduled end.
func (s *AttendanceSession) Overdue(now time.Time) bool {
	return s.Status == SessionActive && !now.Before(s.EndsAt)
}

// AttendanceRecord is one student-marked-present event. At most one
// record exists per (session, enrollment number), enforced by a
// database uniqueness constraint.
type AttendanceRecord struct {
	ID           string
	SessionID    string
	StudentID    string
	EnrollmentNo string
	StudentName  string
	Status       string
	Confidence   float64
	MarkedAt     time.Time
	CreatedAt    time.Time
}

// StudentFilter narrows student queries to a class. Empty fields match all.
type StudentFilter struct {
	Department string
	Year       string
	Division   string
	Name       string // normalized substring match on full name
}

// IsZero reports whether the filter matches everything.
func (f StudentFilter) IsZero() bool {
	return f.Department == "" && f.Year == "" && f.Division == "" && f.Name == ""
}
