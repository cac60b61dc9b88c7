package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/facemark/facemark/internal/database"
	"github.com/pgvector/pgvector-go"
)

// StudentRepository provides PostgreSQL-backed student storage with an
// optional in-memory HNSW index over enrollment embeddings.
type StudentRepository struct {
	pool          *Pool
	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// NewStudentRepository creates a new PostgreSQL student repository.
func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

const studentColumns = `id, enrollment_no, full_name, department, year, division, semester,
	       email, phone_number, registered_at, created_at, updated_at`

func scanStudent(row interface{ Scan(...any) error }) (*database.Student, error) {
	var s database.Student
	err := row.Scan(
		&s.ID,
		&s.EnrollmentNo,
		&s.FullName,
		&s.Department,
		&s.Year,
		&s.Division,
		&s.Semester,
		&s.Email,
		&s.PhoneNumber,
		&s.RegisteredAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByEnrollment retrieves a student by enrollment number, nil if not found.
func (r *StudentRepository) GetByEnrollment(ctx context.Context, enrollmentNo string) (*database.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE enrollment_no = $1", studentColumns)
	s, err := scanStudent(r.pool.QueryRow(ctx, query, enrollmentNo))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student by enrollment: %w", err)
	}
	return s, nil
}

// GetByEmail retrieves a student by email, nil if not found.
func (r *StudentRepository) GetByEmail(ctx context.Context, email string) (*database.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE LOWER(email) = LOWER($1)", studentColumns)
	s, err := scanStudent(r.pool.QueryRow(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student by email: %w", err)
	}
	return s, nil
}

// List returns students matching the filter, ordered by enrollment number.
func (r *StudentRepository) List(ctx context.Context, filter database.StudentFilter) ([]database.Student, error) {
	var conditions []string
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
	if filter.Name != "" {
		// Callers normalize the query with recognize.NormalizeStudentName, so
		// the stored name gets the same treatment here: unaccent strips
		// diacritics ("Jiří" matches "jiri").
		args = append(args, "%"+filter.Name+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(unaccent(full_name)) LIKE $%d", len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM students", studentColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY enrollment_no"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var students []database.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

// Count returns the total number of registered students.
func (r *StudentRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM students").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return count, nil
}

// Departments returns the distinct departments with registered students.
func (r *StudentRepository) Departments(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT DISTINCT department FROM students WHERE department != '' ORDER BY department")
	if err != nil {
		return nil, fmt.Errorf("query departments: %w", err)
	}
	defer rows.Close()

	var departments []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		departments = append(departments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}
	return departments, nil
}

const embeddingColumns = `id, student_id, enrollment_no, student_name, sample_index,
	       embedding, det_score, model, dim, created_at`

func scanEmbedding(row interface{ Scan(...any) error }, dist *float64) (database.StudentEmbedding, error) {
	var e database.StudentEmbedding
	var vec pgvector.Vector
	dest := []any{
		&e.ID,
		&e.StudentID,
		&e.EnrollmentNo,
		&e.StudentName,
		&e.SampleIndex,
		&vec,
		&e.DetScore,
		&e.Model,
		&e.Dim,
		&e.CreatedAt,
	}
	if dist != nil {
		dest = append(dest, dist)
	}
	if err := row.Scan(dest...); err != nil {
		return e, err
	}
	e.Embedding = vec.Slice()
	return e, nil
}

func scanEmbeddings(rows *sql.Rows) ([]database.StudentEmbedding, error) {
	var embeddings []database.StudentEmbedding
	for rows.Next() {
		e, err := scanEmbedding(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		embeddings = append(embeddings, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return embeddings, nil
}

// GetEmbeddings returns all enrollment embeddings for a student.
func (r *StudentRepository) GetEmbeddings(ctx context.Context, studentID string) ([]database.StudentEmbedding, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM student_embeddings WHERE student_id = $1 ORDER BY sample_index", embeddingColumns)
	rows, err := r.pool.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	return scanEmbeddings(rows)
}

// GetAllEmbeddings retrieves all enrollment embeddings from the database.
func (r *StudentRepository) GetAllEmbeddings(ctx context.Context) ([]database.StudentEmbedding, error) {
	query := fmt.Sprintf("SELECT %s FROM student_embeddings ORDER BY id", embeddingColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all embeddings: %w", err)
	}
	defer rows.Close()

	return scanEmbeddings(rows)
}

// FindSimilarWithDistance finds enrollment embeddings nearest to the query
// by cosine distance, capped at maxDistance. Uses the in-memory HNSW index
// if enabled, otherwise falls back to PostgreSQL.
func (r *StudentRepository) FindSimilarWithDistance(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StudentEmbedding, []float64, error) {
	r.hnswMu.RLock()
	hnswEnabled := r.hnswEnabled && r.hnswIndex != nil
	r.hnswMu.RUnlock()

	if hnswEnabled {
		return r.findSimilarHNSW(embedding, limit, maxDistance)
	}

	return r.findSimilarPostgres(ctx, embedding, limit, maxDistance)
}

// findSimilarHNSW uses the in-memory HNSW index for similarity search.
func (r *StudentRepository) findSimilarHNSW(
	embedding []float32, limit int, maxDistance float64,
) ([]database.StudentEmbedding, []float64, error) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndex == nil {
		return nil, nil, errors.New("HNSW index not initialized")
	}

	// Request more candidates to ensure we have enough after distance filtering.
	searchK := limit * database.HNSWSearchMultiplier
	searchK = max(searchK, 100) // Minimum search size for better recall

	ids, distances, err := r.hnswIndex.Search(embedding, searchK)
	if err != nil {
		return nil, nil, fmt.Errorf("HNSW search: %w", err)
	}

	results := make([]database.StudentEmbedding, 0, limit)
	distancesOut := make([]float64, 0, limit)

	for i, id := range ids {
		if distances[i] >= maxDistance {
			continue
		}
		sample := r.hnswIndex.GetSample(id)
		if sample == nil {
			continue
		}
		results = append(results, *sample)
		distancesOut = append(distancesOut, distances[i])
		if len(results) >= limit {
			break
		}
	}

	return results, distancesOut, nil
}

// findSimilarPostgres uses PostgreSQL for similarity search with ef_search
// tuned to match the in-memory HNSW configuration.
func (r *StudentRepository) findSimilarPostgres(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StudentEmbedding, []float64, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s, embedding <=> $1::vector AS distance
		FROM student_embeddings
		WHERE embedding <=> $1::vector < $2
		ORDER BY distance
		LIMIT $3
	`, embeddingColumns)

	vec := pgvector.NewVector(embedding)
	rows, err := tx.QueryContext(ctx, query, vec, maxDistance, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []database.StudentEmbedding
	var distances []float64
	for rows.Next() {
		var dist float64
		e, err := scanEmbedding(rows, &dist)
		if err != nil {
			return nil, nil, fmt.Errorf("scan embedding with distance: %w", err)
		}
		embeddings = append(embeddings, e)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	return embeddings, distances, nil
}

// Create stores a student profile together with its enrollment embeddings
// in one transaction.
func (r *StudentRepository) Create(ctx context.Context, student *database.Student, embeddings []database.StudentEmbedding) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO students (enrollment_no, full_name, department, year, division, semester, email, phone_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, registered_at, created_at, updated_at
	`,
		student.EnrollmentNo,
		student.FullName,
		student.Department,
		student.Year,
		student.Division,
		student.Semester,
		student.Email,
		student.PhoneNumber,
	).Scan(&student.ID, &student.RegisteredAt, &student.CreatedAt, &student.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}

	for i := range embeddings {
		e := &embeddings[i]
		e.StudentID = student.ID
		e.EnrollmentNo = student.EnrollmentNo
		if e.StudentName == "" {
			e.StudentName = student.FullName
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO student_embeddings (student_id, enrollment_no, student_name, sample_index, embedding, det_score, model, dim)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at
		`,
			e.StudentID,
			e.EnrollmentNo,
			e.StudentName,
			e.SampleIndex,
			pgvector.NewVector(e.Embedding),
			e.DetScore,
			e.Model,
			e.Dim,
		).Scan(&e.ID, &e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert embedding %d: %w", e.SampleIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit student: %w", err)
	}

	// Keep the in-memory index in sync.
	r.hnswMu.RLock()
	hnswEnabled := r.hnswEnabled && r.hnswIndex != nil
	r.hnswMu.RUnlock()
	if hnswEnabled {
		for i := range embeddings {
			if err := r.hnswIndex.Add(&embeddings[i]); err != nil {
				return fmt.Errorf("update HNSW index: %w", err)
			}
		}
	}

	return nil
}

// Update modifies mutable profile fields of a student.
func (r *StudentRepository) Update(ctx context.Context, student *database.Student) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE students
		SET full_name = $2, department = $3, year = $4, division = $5,
		    semester = $6, email = $7, phone_number = $8, updated_at = NOW()
		WHERE enrollment_no = $1
	`,
		student.EnrollmentNo,
		student.FullName,
		student.Department,
		student.Year,
		student.Division,
		student.Semester,
		student.Email,
		student.PhoneNumber,
	)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student and (via cascade) its embeddings.
// Returns the deleted embedding IDs for index cleanup.
func (r *StudentRepository) Delete(ctx context.Context, enrollmentNo string) ([]int64, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT e.id FROM student_embeddings e
		JOIN students s ON s.id = e.student_id
		WHERE s.enrollment_no = $1
	`, enrollmentNo)
	if err != nil {
		return nil, fmt.Errorf("query embedding IDs: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan embedding ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate embedding IDs: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "DELETE FROM students WHERE enrollment_no = $1", enrollmentNo); err != nil {
		return nil, fmt.Errorf("delete student: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}

	r.hnswMu.RLock()
	hnswEnabled := r.hnswEnabled && r.hnswIndex != nil
	r.hnswMu.RUnlock()
	if hnswEnabled {
		for _, id := range ids {
			r.hnswIndex.Delete(id)
		}
	}

	return ids, nil
}

// EnableHNSW loads or builds an in-memory HNSW index for O(log N) similarity search.
// If indexPath is provided, it will try to load from disk first and save after building.
// This should be called once at startup.
func (r *StudentRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath

	var dbCount, dbMaxID int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM student_embeddings").Scan(&dbCount, &dbMaxID)
	if err != nil {
		return fmt.Errorf("failed to get embedding stats: %w", err)
	}

	if indexPath != "" && r.tryLoadIndex(indexPath, dbCount, dbMaxID) {
		r.hnswEnabled = true
		return nil
	}

	samples, err := r.GetAllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	r.hnswIndex = database.NewHNSWIndex()
	if err := r.hnswIndex.BuildFromSamples(samples); err != nil {
		return fmt.Errorf("failed to build HNSW index: %w", err)
	}

	if indexPath != "" && len(samples) > 0 {
		metadata := database.HNSWIndexMetadata{SampleCount: dbCount, MaxSampleID: dbMaxID}
		if err := r.hnswIndex.SaveWithSampleMetadata(indexPath, metadata); err != nil {
			fmt.Printf("Warning: failed to save HNSW index to disk: %v\n", err)
		}
	}

	r.hnswEnabled = true
	return nil
}

// tryLoadIndex attempts to load the HNSW index from disk.
// Returns true if the index was loaded and is not stale.
func (r *StudentRepository) tryLoadIndex(indexPath string, dbCount, dbMaxID int64) bool {
	metadata, metaErr := database.LoadHNSWMetadata(indexPath)
	if metaErr != nil {
		fmt.Printf("Embedding index: metadata file error: %v (will rebuild)\n", metaErr)
		return false
	}
	if metadata.SampleCount != dbCount || metadata.MaxSampleID != dbMaxID {
		fmt.Printf("Embedding index: stale (db: count=%d max_id=%d, cached: count=%d max_id=%d) (will rebuild)\n",
			dbCount, dbMaxID, metadata.SampleCount, metadata.MaxSampleID)
		return false
	}

	r.hnswIndex = database.NewHNSWIndex()
	if err := r.hnswIndex.LoadWithSampleMetadata(indexPath); err != nil {
		fmt.Printf("Embedding index: failed to load: %v (will rebuild)\n", err)
		return false
	}
	if r.hnswIndex.IsEmpty() {
		fmt.Printf("Embedding index: loaded graph is empty (will rebuild)\n")
		return false
	}
	fmt.Printf("Embedding index: loaded from disk (fresh)\n")
	return true
}

// DisableHNSW disables the in-memory HNSW index, falling back to PostgreSQL queries.
func (r *StudentRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndex = nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *StudentRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// HNSWCount returns the number of embeddings in the HNSW index.
func (r *StudentRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// RebuildHNSW rebuilds the HNSW index from PostgreSQL data.
func (r *StudentRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	r.hnswMu.RUnlock()
	return r.EnableHNSW(ctx, indexPath)
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
func (r *StudentRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil // Nothing to save
	}

	ctx := context.Background()
	var count, maxID int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM student_embeddings").Scan(&count, &maxID)
	if err != nil {
		return fmt.Errorf("failed to get embedding stats: %w", err)
	}

	metadata := database.HNSWIndexMetadata{SampleCount: count, MaxSampleID: maxID}
	if err := r.hnswIndex.SaveWithSampleMetadata(r.hnswIndexPath, metadata); err != nil {
		return fmt.Errorf("saving HNSW embedding index: %w", err)
	}

	return nil
}
