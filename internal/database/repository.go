package database

import (
	"context"
	"errors"
)

// ErrDuplicateRecord is returned by RecordStore.Insert when the student is
// already marked present in the session. It maps the uniqueness constraint
// on (session_id, enrollment_no), which is the race-safe source of truth.
var ErrDuplicateRecord = errors.New("attendance already marked for student in session")

// ErrSessionNotActive is returned when a record insert hits a session that
// has already ended (enforced by a database trigger).
var ErrSessionNotActive = errors.New("attendance session is not active")

// ErrUserExists is returned by UserStore.Create when an account with the
// same email and role already exists.
var ErrUserExists = errors.New("account already exists for email and role")

// StudentReader provides read-only access to students and their embeddings.
type StudentReader interface {
	// GetByEnrollment retrieves a student by enrollment number, nil if not found
	GetByEnrollment(ctx context.Context, enrollmentNo string) (*Student, error)
	// GetByEmail retrieves a student by email, nil if not found
	GetByEmail(ctx context.Context, email string) (*Student, error)
	// List returns students matching the filter, ordered by enrollment number
	List(ctx context.Context, filter StudentFilter) ([]Student, error)
	// Count returns the total number of registered students
	Count(ctx context.Context) (int, error)
	// Departments returns the distinct departments with registered students
	Departments(ctx context.Context) ([]string, error)
	// GetEmbeddings returns all enrollment embeddings for a student
	GetEmbeddings(ctx context.Context, studentID string) ([]StudentEmbedding, error)
	// FindSimilarWithDistance finds enrollment embeddings nearest to the query
	// by cosine distance, capped at maxDistance, together with the distances.
	FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]StudentEmbedding, []float64, error)
}

// StudentWriter provides write access to students.
type StudentWriter interface {
	StudentReader

	// Create stores a student profile together with its enrollment embeddings
	// in one transaction. Fills in the generated student ID and embedding IDs.
	Create(ctx context.Context, student *Student, embeddings []StudentEmbedding) error
	// Update modifies mutable profile fields of a student
	Update(ctx context.Context, student *Student) error
	// Delete removes a student and (via cascade) its embeddings.
	// Returns the deleted embedding IDs for index cleanup.
	Delete(ctx context.Context, enrollmentNo string) ([]int64, error)
}

// SessionStore provides access to attendance sessions.
type SessionStore interface {
	// Create stores a new session, filling in the generated ID
	Create(ctx context.Context, session *AttendanceSession) error
	// GetByCode retrieves a session by its public code, nil if not found
	GetByCode(ctx context.Context, code string) (*AttendanceSession, error)
	// ListActive returns active sessions matching the class filter
	ListActive(ctx context.Context, filter StudentFilter) ([]AttendanceSession, error)
	// End marks a session ended. Returns false if no session matched the code.
	End(ctx context.Context, code string) (bool, error)
	// EndOverdue ends all active sessions whose scheduled end has passed,
	// returning the number of sessions closed.
	EndOverdue(ctx context.Context) (int64, error)
}

// RecordStore provides access to attendance records.
type RecordStore interface {
	// Insert stores a record. Returns ErrDuplicateRecord when the student is
	// already marked in the session and ErrSessionNotActive when the session
	// has ended.
	Insert(ctx context.Context, record *AttendanceRecord) error
	// ListBySession returns a session's records, newest first
	ListBySession(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
	// ListByEnrollment returns a student's records across sessions, newest first
	ListByEnrollment(ctx context.Context, enrollmentNo string) ([]AttendanceRecord, error)
	// IsMarked checks whether a student is already marked in a session
	IsMarked(ctx context.Context, sessionID, enrollmentNo string) (bool, error)
}

// UserStore provides access to authentication accounts.
type UserStore interface {
	// Create stores a new account, filling in the generated ID
	Create(ctx context.Context, user *User) error
	// GetByEmailRole retrieves an account by email and role, nil if not found
	GetByEmailRole(ctx context.Context, email, role string) (*User, error)
	// EmailExists checks whether any account uses the email
	EmailExists(ctx context.Context, email string) (bool, error)
}
