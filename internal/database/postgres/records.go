package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/facemark/facemark/internal/database"
	"github.com/lib/pq"
)

// AttendanceRecordRepository provides PostgreSQL-backed attendance record storage.
type AttendanceRecordRepository struct {
	pool *Pool
}

// NewAttendanceRecordRepository creates a new PostgreSQL attendance record repository.
func NewAttendanceRecordRepository(pool *Pool) *AttendanceRecordRepository {
	return &AttendanceRecordRepository{pool: pool}
}

const recordColumns = `id, session_id, student_id, enrollment_no, student_name,
	       status, confidence, marked_at, created_at`

func scanRecord(row interface{ Scan(...any) error }) (*database.AttendanceRecord, error) {
	var r database.AttendanceRecord
	var studentID sql.NullString
	err := row.Scan(
		&r.ID,
		&r.SessionID,
		&studentID,
		&r.EnrollmentNo,
		&r.StudentName,
		&r.Status,
		&r.Confidence,
		&r.MarkedAt,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.StudentID = studentID.String
	return &r, nil
}

// Insert stores a record. Returns database.ErrDuplicateRecord when the
// student is already marked in the session and database.ErrSessionNotActive
// when the session has ended. Both are enforced by the database itself so
// concurrent marking stays correct.
func (r *AttendanceRecordRepository) Insert(ctx context.Context, record *database.AttendanceRecord) error {
	var studentID any
	if record.StudentID != "" {
		studentID = record.StudentID
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO attendance_records (session_id, student_id, enrollment_no, student_name, status, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, marked_at, created_at
	`,
		record.SessionID,
		studentID,
		record.EnrollmentNo,
		record.StudentName,
		record.Status,
		record.Confidence,
	).Scan(&record.ID, &record.MarkedAt, &record.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case "23505": // unique_violation on (session_id, enrollment_no)
				return database.ErrDuplicateRecord
			case "P0001": // raised by the active-session trigger
				return database.ErrSessionNotActive
			}
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// ListBySession returns a session's records, newest first.
func (r *AttendanceRecordRepository) ListBySession(ctx context.Context, sessionID string) ([]database.AttendanceRecord, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM attendance_records WHERE session_id = $1 ORDER BY marked_at DESC", recordColumns)
	return r.listRecords(ctx, query, sessionID)
}

// ListByEnrollment returns a student's records across sessions, newest first.
func (r *AttendanceRecordRepository) ListByEnrollment(ctx context.Context, enrollmentNo string) ([]database.AttendanceRecord, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM attendance_records WHERE enrollment_no = $1 ORDER BY marked_at DESC", recordColumns)
	return r.listRecords(ctx, query, enrollmentNo)
}

func (r *AttendanceRecordRepository) listRecords(ctx context.Context, query string, arg any) ([]database.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// IsMarked checks whether a student is already marked in a session.
func (r *AttendanceRecordRepository) IsMarked(ctx context.Context, sessionID, enrollmentNo string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM attendance_records WHERE session_id = $1 AND enrollment_no = $2)",
		sessionID, enrollmentNo,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check record exists: %w", err)
	}
	return exists, nil
}
