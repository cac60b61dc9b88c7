package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/facemark/facemark/internal/config"
	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/database/mock"
	"github.com/facemark/facemark/internal/facesvc"
	"github.com/facemark/facemark/internal/web/middleware"
)

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

func testServer(t *testing.T) (*Server, *middleware.SessionManager) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})
	faceService := httptest.NewServer(mux)
	t.Cleanup(faceService.Close)

	cfg := &config.Config{
		Recognition: config.RecognitionConfig{Threshold: 0.6, Dim: 512, MinDetScore: 0.85, MinFacePx: 40},
		Web:         config.WebConfig{Port: 0, Host: "127.0.0.1", SessionSecret: "test-secret"},
	}
	stores := Stores{
		Students: mock.NewMockStudentStore(),
		Sessions: mock.NewMockSessionStore(),
		Records:  mock.NewMockRecordStore(),
		Users:    mock.NewMockUserStore(),
		DB:       okPinger{},
	}
	server := NewServer(cfg, stores, facesvc.NewClient(faceService.URL, "facenet512"), nil)
	t.Cleanup(func() { server.sessionManager.Stop() })
	return server, server.sessionManager
}

func TestRouting(t *testing.T) {
	server, sm := testServer(t)

	t.Run("HealthIsPublic", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 from /health, got %d", rec.Code)
		}
	})

	t.Run("StudentsRequireAuth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/students", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 without session, got %d", rec.Code)
		}
	})

	t.Run("SessionCreationIsTeacherOnly", func(t *testing.T) {
		session, err := sm.CreateSession(context.Background(), "user-1", "student@example.com", database.RoleStudent)
		if err != nil {
			t.Fatalf("failed to create session: %v", err)
		}

		req := httptest.NewRequest("POST", "/api/attendance/create_session", strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer "+session.ID)
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403 for student role, got %d", rec.Code)
		}
	})

	t.Run("TeacherCanCreateSession", func(t *testing.T) {
		session, err := sm.CreateSession(context.Background(), "user-2", "teacher@example.com", database.RoleTeacher)
		if err != nil {
			t.Fatalf("failed to create session: %v", err)
		}

		req := httptest.NewRequest("POST", "/api/attendance/create_session",
			strings.NewReader(`{"subject": "Databases", "duration_minutes": 15}`))
		req.Header.Set("Authorization", "Bearer "+session.ID)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 for teacher, got %d\nBody: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("UnknownAPIRouteIsJSON404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/unknown", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("expected a JSON 404 body: %v", err)
		}
		if success, _ := resp["success"].(bool); success {
			t.Errorf("expected success=false, got %v", resp)
		}
	})

	t.Run("NonAPIRouteServesSPA", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/dashboard", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 from SPA fallback, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("expected HTML, got %s", ct)
		}
	})
}
