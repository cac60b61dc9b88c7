// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/recognize"
)

// MockStudentStore is a mock implementation of database.StudentWriter
type MockStudentStore struct {
	mu         sync.RWMutex
	students   map[string]*database.Student            // keyed by enrollment number
	embeddings map[string][]database.StudentEmbedding  // keyed by student ID

	studentCounter   int
	embeddingCounter int64

	// Track calls
	CreateCalls []string
	DeleteCalls []string

	// Error injection
	GetError         error
	ListError        error
	CountError       error
	DepartmentsError error
	EmbeddingsError  error
	FindSimilarError error
	CreateError      error
	UpdateError      error
	DeleteError      error
}

// NewMockStudentStore creates a new mock student store
func NewMockStudentStore() *MockStudentStore {
	return &MockStudentStore{
		students:   make(map[string]*database.Student),
		embeddings: make(map[string][]database.StudentEmbedding),
	}
}

// AddStudent adds a student with embeddings to the mock store
func (m *MockStudentStore) AddStudent(student database.Student, embeddings []database.StudentEmbedding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if student.ID == "" {
		m.studentCounter++
		student.ID = fmt.Sprintf("student-%d", m.studentCounter)
	}
	m.students[student.EnrollmentNo] = &student
	for i := range embeddings {
		m.embeddingCounter++
		embeddings[i].ID = m.embeddingCounter
		embeddings[i].StudentID = student.ID
		embeddings[i].EnrollmentNo = student.EnrollmentNo
		if embeddings[i].StudentName == "" {
			embeddings[i].StudentName = student.FullName
		}
	}
	m.embeddings[student.ID] = embeddings
}

// GetByEnrollment retrieves a student by enrollment number
func (m *MockStudentStore) GetByEnrollment(ctx context.Context, enrollmentNo string) (*database.Student, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.students[enrollmentNo], nil
}

// GetByEmail retrieves a student by email
func (m *MockStudentStore) GetByEmail(ctx context.Context, email string) (*database.Student, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if strings.EqualFold(s.Email, email) {
			return s, nil
		}
	}
	return nil, nil
}

// List returns students matching the filter
func (m *MockStudentStore) List(ctx context.Context, filter database.StudentFilter) ([]database.Student, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.Student
	for _, s := range m.students {
		if filter.Department != "" && s.Department != filter.Department {
			continue
		}
		if filter.Year != "" && s.Year != filter.Year {
			continue
		}
		if filter.Division != "" && s.Division != filter.Division {
			continue
		}
		if filter.Name != "" && !strings.Contains(recognize.NormalizeStudentName(s.FullName), recognize.NormalizeStudentName(filter.Name)) {
			continue
		}
		result = append(result, *s)
	}
	return result, nil
}

// Count returns the total number of students
func (m *MockStudentStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.students), nil
}

// Departments returns the distinct departments
func (m *MockStudentStore) Departments(ctx context.Context) ([]string, error) {
	if m.DepartmentsError != nil {
		return nil, m.DepartmentsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var result []string
	for _, s := range m.students {
		if _, ok := seen[s.Department]; ok || s.Department == "" {
			continue
		}
		seen[s.Department] = struct{}{}
		result = append(result, s.Department)
	}
	return result, nil
}

// GetEmbeddings returns all enrollment embeddings for a student
func (m *MockStudentStore) GetEmbeddings(ctx context.Context, studentID string) ([]database.StudentEmbedding, error) {
	if m.EmbeddingsError != nil {
		return nil, m.EmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.embeddings[studentID], nil
}

// FindSimilarWithDistance finds enrollment embeddings nearest to the query.
// The mock computes real cosine distances so matcher tests behave like the
// production store.
func (m *MockStudentStore) FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.StudentEmbedding, []float64, error) {
	if m.FindSimilarError != nil {
		return nil, nil, m.FindSimilarError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		emb  database.StudentEmbedding
		dist float64
	}
	var candidates []scored
	for _, embs := range m.embeddings {
		for i := range embs {
			d := database.CosineDistance(embedding, embs[i].Embedding)
			if d > maxDistance {
				continue
			}
			candidates = append(candidates, scored{embs[i], d})
		}
	}
	// Insertion sort by distance, the mock never holds many embeddings.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].dist < candidates[j-1].dist; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]database.StudentEmbedding, len(candidates))
	distances := make([]float64, len(candidates))
	for i, c := range candidates {
		results[i] = c.emb
		distances[i] = c.dist
	}
	return results, distances, nil
}

// Create stores a student with embeddings
func (m *MockStudentStore) Create(ctx context.Context, student *database.Student, embeddings []database.StudentEmbedding) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.studentCounter++
	student.ID = fmt.Sprintf("student-%d", m.studentCounter)
	m.students[student.EnrollmentNo] = student
	for i := range embeddings {
		m.embeddingCounter++
		embeddings[i].ID = m.embeddingCounter
		embeddings[i].StudentID = student.ID
	}
	m.embeddings[student.ID] = embeddings
	m.CreateCalls = append(m.CreateCalls, student.EnrollmentNo)
	return nil
}

// Update modifies a student profile
func (m *MockStudentStore) Update(ctx context.Context, student *database.Student) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[student.EnrollmentNo] = student
	return nil
}

// Delete removes a student and its embeddings
func (m *MockStudentStore) Delete(ctx context.Context, enrollmentNo string) ([]int64, error) {
	if m.DeleteError != nil {
		return nil, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, enrollmentNo)
	s, ok := m.students[enrollmentNo]
	if !ok {
		return nil, nil
	}
	var ids []int64
	for _, emb := range m.embeddings[s.ID] {
		ids = append(ids, emb.ID)
	}
	delete(m.embeddings, s.ID)
	delete(m.students, enrollmentNo)
	return ids, nil
}

// MockSessionStore is a mock implementation of database.SessionStore
type MockSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*database.AttendanceSession // keyed by code

	sessionCounter int

	// Error injection
	CreateError     error
	GetError        error
	ListError       error
	EndError        error
	EndOverdueError error
}

// NewMockSessionStore creates a new mock session store
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		sessions: make(map[string]*database.AttendanceSession),
	}
}

// AddSession adds a session to the mock store
func (m *MockSessionStore) AddSession(session database.AttendanceSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == "" {
		m.sessionCounter++
		session.ID = fmt.Sprintf("session-%d", m.sessionCounter)
	}
	m.sessions[session.Code] = &session
}

// Create stores a new session
func (m *MockSessionStore) Create(ctx context.Context, session *database.AttendanceSession) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionCounter++
	session.ID = fmt.Sprintf("session-%d", m.sessionCounter)
	m.sessions[session.Code] = session
	return nil
}

// GetByCode retrieves a session by code
func (m *MockSessionStore) GetByCode(ctx context.Context, code string) (*database.AttendanceSession, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[code]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

// ListActive returns active sessions matching the filter
func (m *MockSessionStore) ListActive(ctx context.Context, filter database.StudentFilter) ([]database.AttendanceSession, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.AttendanceSession
	for _, s := range m.sessions {
		if s.Status != database.SessionActive {
			continue
		}
		if filter.Department != "" && s.Department != filter.Department {
			continue
		}
		if filter.Year != "" && s.Year != filter.Year {
			continue
		}
		if filter.Division != "" && s.Division != filter.Division {
			continue
		}
		result = append(result, *s)
	}
	return result, nil
}

// End marks a session ended
func (m *MockSessionStore) End(ctx context.Context, code string) (bool, error) {
	if m.EndError != nil {
		return false, m.EndError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[code]
	if !ok || s.Status != database.SessionActive {
		return false, nil
	}
	now := time.Now()
	s.Status = database.SessionEnded
	s.EndedAt = &now
	return true, nil
}

// EndOverdue ends all active sessions past their scheduled end
func (m *MockSessionStore) EndOverdue(ctx context.Context) (int64, error) {
	if m.EndOverdueError != nil {
		return 0, m.EndOverdueError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var closed int64
	for _, s := range m.sessions {
		if s.Overdue(now) {
			s.Status = database.SessionEnded
			ended := now
			s.EndedAt = &ended
			closed++
		}
	}
	return closed, nil
}

// MockRecordStore is a mock implementation of database.RecordStore
type MockRecordStore struct {
	mu      sync.RWMutex
	records []database.AttendanceRecord

	recordCounter int

	// Sessions lets the mock enforce the active-session rule the way the
	// production trigger does. Optional.
	Sessions *MockSessionStore

	// Track calls
	InsertCalls []database.AttendanceRecord

	// Error injection
	InsertError error
	ListError   error
	MarkedError error
}

// NewMockRecordStore creates a new mock record store
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{}
}

// Insert stores a record, enforcing per-session uniqueness
func (m *MockRecordStore) Insert(ctx context.Context, record *database.AttendanceRecord) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.SessionID == record.SessionID && r.EnrollmentNo == record.EnrollmentNo {
			return database.ErrDuplicateRecord
		}
	}
	if m.Sessions != nil {
		m.Sessions.mu.RLock()
		for _, s := range m.Sessions.sessions {
			if s.ID == record.SessionID && s.Status != database.SessionActive {
				m.Sessions.mu.RUnlock()
				return database.ErrSessionNotActive
			}
		}
		m.Sessions.mu.RUnlock()
	}
	m.recordCounter++
	record.ID = fmt.Sprintf("record-%d", m.recordCounter)
	if record.MarkedAt.IsZero() {
		record.MarkedAt = time.Now()
	}
	m.records = append(m.records, *record)
	m.InsertCalls = append(m.InsertCalls, *record)
	return nil
}

// ListBySession returns a session's records
func (m *MockRecordStore) ListBySession(ctx context.Context, sessionID string) ([]database.AttendanceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.AttendanceRecord
	for _, r := range m.records {
		if r.SessionID == sessionID {
			result = append(result, r)
		}
	}
	return result, nil
}

// ListByEnrollment returns a student's records
func (m *MockRecordStore) ListByEnrollment(ctx context.Context, enrollmentNo string) ([]database.AttendanceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.AttendanceRecord
	for _, r := range m.records {
		if r.EnrollmentNo == enrollmentNo {
			result = append(result, r)
		}
	}
	return result, nil
}

// IsMarked checks whether a student is marked in a session
func (m *MockRecordStore) IsMarked(ctx context.Context, sessionID, enrollmentNo string) (bool, error) {
	if m.MarkedError != nil {
		return false, m.MarkedError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.SessionID == sessionID && r.EnrollmentNo == enrollmentNo {
			return true, nil
		}
	}
	return false, nil
}

// MockUserStore is a mock implementation of database.UserStore
type MockUserStore struct {
	mu    sync.RWMutex
	users map[string]*database.User // keyed by email|role

	userCounter int

	// Error injection
	CreateError error
	GetError    error
	ExistsError error
}

// NewMockUserStore creates a new mock user store
func NewMockUserStore() *MockUserStore {
	return &MockUserStore{
		users: make(map[string]*database.User),
	}
}

func userKey(email, role string) string {
	return strings.ToLower(email) + "|" + role
}

// AddUser adds an account to the mock store
func (m *MockUserStore) AddUser(user database.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		m.userCounter++
		user.ID = fmt.Sprintf("user-%d", m.userCounter)
	}
	m.users[userKey(user.Email, user.Role)] = &user
}

// Create stores a new account
func (m *MockUserStore) Create(ctx context.Context, user *database.User) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userKey(user.Email, user.Role)
	if _, exists := m.users[key]; exists {
		return database.ErrUserExists
	}
	m.userCounter++
	user.ID = fmt.Sprintf("user-%d", m.userCounter)
	m.users[key] = user
	return nil
}

// GetByEmailRole retrieves an account by email and role
func (m *MockUserStore) GetByEmailRole(ctx context.Context, email, role string) (*database.User, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[userKey(email, role)], nil
}

// EmailExists checks whether any account uses the email
func (m *MockUserStore) EmailExists(ctx context.Context, email string) (bool, error) {
	if m.ExistsError != nil {
		return false, m.ExistsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := strings.ToLower(email) + "|"
	for key := range m.users {
		if strings.HasPrefix(key, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// Verify interface compliance
var _ database.StudentReader = (*MockStudentStore)(nil)
var _ database.StudentWriter = (*MockStudentStore)(nil)
var _ database.SessionStore = (*MockSessionStore)(nil)
var _ database.RecordStore = (*MockRecordStore)(nil)
var _ database.UserStore = (*MockUserStore)(nil)
