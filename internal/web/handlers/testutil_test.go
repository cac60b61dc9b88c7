package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/facemark/facemark/internal/config"
	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/database/mock"
	"github.com/facemark/facemark/internal/facesvc"
	"github.com/facemark/facemark/internal/recognize"
	"github.com/facemark/facemark/internal/web/middleware"
)

// testRecognitionConfig returns recognition parameters for tests
func testRecognitionConfig() config.RecognitionConfig {
	return config.RecognitionConfig{
		Threshold:   0.6,
		Dim:         512,
		MinDetScore: 0.85,
		MinFacePx:   40,
	}
}

// newTestMatcher creates a matcher over a mock student store
func newTestMatcher(students database.StudentReader) *recognize.Matcher {
	return recognize.NewMatcher(students, testRecognitionConfig())
}

// setupFakeFaceService creates a mock face service returning the given faces
// from /detect and a healthy /health
func setupFakeFaceService(t *testing.T, faces []facesvc.Face) (*httptest.Server, *facesvc.Client) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(facesvc.DetectResponse{
			FacesCount: len(faces),
			Faces:      faces,
			Model:      "facenet512",
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, facesvc.NewClient(server.URL, "facenet512")
}

// goodFace builds a detected face passing the quality gate, with an
// embedding pointing along the given axis
func goodFace(axis int) facesvc.Face {
	emb := make([]float32, 512)
	emb[axis] = 1
	return facesvc.Face{
		FaceIndex: 0,
		Dim:       512,
		Embedding: emb,
		BBox:      []float64{10, 10, 110, 120},
		DetScore:  0.99,
	}
}

// enrolledStudent seeds the mock store with a student whose five enrollment
// samples cluster around the given axis
func enrolledStudent(store *mock.MockStudentStore, enrollment, name, department string, axis int) database.Student {
	student := database.Student{
		EnrollmentNo: enrollment,
		FullName:     name,
		Department:   department,
		Year:         "2",
		Division:     "A",
		Semester:     "4",
		Email:        enrollment + "@example.com",
		PhoneNumber:  "5550100",
		RegisteredAt: time.Now().UTC(),
	}
	embeddings := make([]database.StudentEmbedding, 0, 5)
	for i := 0; i < 5; i++ {
		emb := make([]float32, 512)
		emb[axis] = 1
		emb[(axis+1)%512] = float32(i) * 0.01
		embeddings = append(embeddings, database.StudentEmbedding{
			SampleIndex: i,
			Embedding:   emb,
			DetScore:    0.99,
			Model:       "facenet512",
			Dim:         512,
		})
	}
	store.AddStudent(student, embeddings)
	return student
}

// testImageDataURL returns a small valid JPEG as a browser-style data URL
func testImageDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithSession attaches a login session to the request context
func requestWithSession(r *http.Request, role string) *http.Request {
	session := &middleware.Session{
		ID:        "test-session",
		UserID:    "user-1",
		Email:     "user@example.com",
		Role:      role,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return r.WithContext(middleware.SetSessionInContext(r.Context(), session))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is an envelope error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if success, _ := result["success"].(bool); success {
		t.Errorf("expected success=false in error response\nBody: %s", recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
