package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/facemark/facemark/internal/database/mock"
	"github.com/facemark/facemark/internal/facesvc"
)

func setupDemoHandler(t *testing.T, faces []facesvc.Face) (*DemoHandler, *mock.MockStudentStore) {
	t.Helper()
	students := mock.NewMockStudentStore()
	_, client := setupFakeFaceService(t, faces)
	return NewDemoHandler(client, newTestMatcher(students)), students
}

func TestDemoRecognize(t *testing.T) {
	t.Run("IdentifiesWithoutMarking", func(t *testing.T) {
		handler, students := setupDemoHandler(t, []facesvc.Face{goodFace(3)})
		enrolledStudent(students, "EN001", "Ada Vondrak", "Computer", 3)

		req := jsonRequest(t, "POST", "/api/demo/recognize", map[string]string{
			"image": testImageDataURL(t),
		})
		rec := httptest.NewRecorder()
		handler.Recognize(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp struct {
			Success        bool           `json:"success"`
			Faces          []faceResult   `json:"faces"`
			ProcessingTime float64        `json:"processing_time"`
			DetailedTiming map[string]any `json:"detailed_timing"`
		}
		parseJSONResponse(t, rec, &resp)
		if !resp.Success || len(resp.Faces) != 1 {
			t.Fatalf("unexpected response: %+v", resp)
		}
		face := resp.Faces[0]
		if face.Status != faceMatched || face.Match == nil || face.Match.UserID != "EN001" {
			t.Errorf("unexpected face result: %+v", face)
		}
		if face.Confidence == nil || *face.Confidence <= 0 {
			t.Errorf("expected positive confidence, got %v", face.Confidence)
		}
		if _, ok := resp.DetailedTiming["detection"]; !ok {
			t.Error("expected detection timing in response")
		}
	})

	t.Run("NoFaces", func(t *testing.T) {
		handler, _ := setupDemoHandler(t, nil)

		req := jsonRequest(t, "POST", "/api/demo/recognize", map[string]string{
			"image": testImageDataURL(t),
		})
		rec := httptest.NewRecorder()
		handler.Recognize(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp struct {
			Success bool         `json:"success"`
			Faces   []faceResult `json:"faces"`
		}
		parseJSONResponse(t, rec, &resp)
		if !resp.Success || len(resp.Faces) != 0 {
			t.Errorf("expected empty face list, got %+v", resp)
		}
	})

	t.Run("InvalidImage", func(t *testing.T) {
		handler, _ := setupDemoHandler(t, nil)

		req := jsonRequest(t, "POST", "/api/demo/recognize", map[string]string{
			"image": "data:image/jpeg;base64,!!!",
		})
		rec := httptest.NewRecorder()
		handler.Recognize(rec, req)

		assertStatusCode(t, rec, http.StatusBadRequest)
		assertJSONError(t, rec, "Invalid base64 image")
	})

	t.Run("MissingImage", func(t *testing.T) {
		handler, _ := setupDemoHandler(t, nil)

		req := jsonRequest(t, "POST", "/api/demo/recognize", map[string]string{})
		rec := httptest.NewRecorder()
		handler.Recognize(rec, req)

		assertStatusCode(t, rec, http.StatusBadRequest)
		assertJSONError(t, rec, "Missing image")
	})
}

func TestModelsStatus(t *testing.T) {
	t.Run("Ready", func(t *testing.T) {
		handler, _ := setupDemoHandler(t, nil)

		req := httptest.NewRequest("GET", "/api/demo/models/status", nil)
		rec := httptest.NewRecorder()
		handler.ModelsStatus(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp struct {
			Ready bool   `json:"ready"`
			Model string `json:"model"`
		}
		parseJSONResponse(t, rec, &resp)
		if !resp.Ready || resp.Model != "facenet512" {
			t.Errorf("unexpected status: %+v", resp)
		}
	})

	t.Run("ServiceDown", func(t *testing.T) {
		server, client := setupFakeFaceService(t, nil)
		server.Close()
		handler := NewDemoHandler(client, newTestMatcher(mock.NewMockStudentStore()))

		req := httptest.NewRequest("GET", "/api/demo/models/status", nil)
		rec := httptest.NewRecorder()
		handler.ModelsStatus(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp struct {
			Ready bool `json:"ready"`
		}
		parseJSONResponse(t, rec, &resp)
		if resp.Ready {
			t.Error("expected ready=false when the face service is down")
		}
	})
}
