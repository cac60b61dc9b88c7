package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/facemark/facemark/internal/database"
)

// AttendanceSessionRepository provides PostgreSQL-backed attendance session storage.
type AttendanceSessionRepository struct {
	pool *Pool
}

// NewAttendanceSessionRepository creates a new PostgreSQL attendance session repository.
func NewAttendanceSessionRepository(pool *Pool) *AttendanceSessionRepository {
	return &AttendanceSessionRepository{pool: pool}
}

func newID() string {
	return uuid.New().String()
}

const sessionColumns = `id, code, subject, department, year, division, date,
	       started_at, ends_at, ended_at, duration_minutes, status, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*database.AttendanceSession, error) {
	var s database.AttendanceSession
	var endedAt sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.Code,
		&s.Subject,
		&s.Department,
		&s.Year,
		&s.Division,
		&s.Date,
		&s.StartedAt,
		&s.EndsAt,
		&endedAt,
		&s.DurationMinutes,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return &s, nil
}

// Create stores a new session, generating an ID when none is set.
func (r *AttendanceSessionRepository) Create(ctx context.Context, session *database.AttendanceSession) error {
	if session.ID == "" {
		session.ID = newID()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO attendance_sessions (id, code, subject, department, year, division, date, started_at, ends_at, duration_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`,
		session.ID,
		session.Code,
		session.Subject,
		session.Department,
		session.Year,
		session.Division,
		session.Date,
		session.StartedAt,
		session.EndsAt,
		session.DurationMinutes,
		session.Status,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByCode retrieves a session by its public code, nil if not found.
func (r *AttendanceSessionRepository) GetByCode(ctx context.Context, code string) (*database.AttendanceSession, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance_sessions WHERE code = $1", sessionColumns)
	s, err := scanSession(r.pool.QueryRow(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by code: %w", err)
	}
	return s, nil
}

// ListActive returns active sessions matching the class filter, newest first.
func (r *AttendanceSessionRepository) ListActive(ctx context.Context, filter database.StudentFilter) ([]database.AttendanceSession, error) {
	conditions := []string{"status = 'active'"}
	var args []any

	addCond := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	addCond("department", filter.Department)
	addCond("year", filter.Year)
	addCond("division", filter.Division)

	query := fmt.Sprintf(
		"SELECT %s FROM attendance_sessions WHERE %s ORDER BY started_at DESC",
		sessionColumns, strings.Join(conditions, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []database.AttendanceSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// End marks a session ended. Returns false if no active session matched the code.
func (r *AttendanceSessionRepository) End(ctx context.Context, code string) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE attendance_sessions
		SET status = 'ended', ended_at = NOW(), updated_at = NOW()
		WHERE code = $1 AND status = 'active'
	`, code)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return affected > 0, nil
}

// EndOverdue ends all active sessions whose scheduled end has passed,
// returning the number of sessions closed.
func (r *AttendanceSessionRepository) EndOverdue(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE attendance_sessions
		SET status = 'ended', ended_at = ends_at, updated_at = NOW()
		WHERE status = 'active' AND ends_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("end overdue sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return count, nil
}
