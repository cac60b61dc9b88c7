package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/database/mock"
	"github.com/facemark/facemark/internal/facesvc"
)

type attendanceFixture struct {
	handler  *AttendanceHandler
	sessions *mock.MockSessionStore
	records  *mock.MockRecordStore
	students *mock.MockStudentStore
}

func setupAttendanceHandler(t *testing.T, faces []facesvc.Face) *attendanceFixture {
	t.Helper()
	students := mock.NewMockStudentStore()
	sessions := mock.NewMockSessionStore()
	records := mock.NewMockRecordStore()
	records.Sessions = sessions
	_, client := setupFakeFaceService(t, faces)
	return &attendanceFixture{
		handler:  NewAttendanceHandler(sessions, records, client, newTestMatcher(students)),
		sessions: sessions,
		records:  records,
		students: students,
	}
}

type markResponse struct {
	Success bool         `json:"success"`
	Faces   []faceResult `json:"faces"`
	Summary struct {
		TotalFaces         int `json:"total_faces"`
		SuccessfulMarkings int `json:"successful_markings"`
		DuplicateAttempts  int `json:"duplicate_attempts"`
		NoMatches          int `json:"no_matches"`
	} `json:"summary"`
}

func TestMarkAttendance(t *testing.T) {
	t.Run("MarksRecognizedStudent", func(t *testing.T) {
		fx := setupAttendanceHandler(t, []facesvc.Face{goodFace(3)})
		enrolledStudent(fx.students, "EN001", "Ada Vondrak", "Computer", 3)
		fx.sessions.AddSession(activeSession("session_1", time.Minute, 20*time.Minute))

		req := jsonRequest(t, "POST", "/api/attendance/real-mark", map[string]string{
			"session_id": "session_1",
			"image":      testImageDataURL(t),
		})
		rec := httptest.NewRecorder()
		fx.handler.Mark(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp markResponse
		parseJSONResponse(t, rec, &resp)
		if len(resp.Faces) != 1 {
			t.Fatalf("expected one face result, got %d", len(resp.Faces))
		}
		face := resp.Faces[0]
		if face.Status != faceMarkedPresent {
			t.Fatalf("expected marked_present, got %s (%s)", face.Status, face.Message)
		}
		if face.Match == nil || face.Match.UserID != "EN001" {
			t.Errorf("unexpected match: %+v", face.Match)
		}
		if resp.Summary.SuccessfulMarkings != 1 || resp.Summary.TotalFaces != 1 {
			t.Errorf("unexpected summary: %+v", resp.Summary)
		}
		if len(fx.records.InsertCalls) != 1 {
			t.Fatalf("expected one record insert, got %d", len(fx.records.InsertCalls))
		}
		inserted := fx.records.InsertCalls[0]
		if inserted.EnrollmentNo != "EN001" || inserted.Status != database.RecordPresent {
			t.Errorf("unexpected record: %+v", inserted)
		}
		if inserted.Confidence <= 0 {
			t.Errorf("expected positive confidence, got %f", inserted.Confidence)
		}
	})

	t.Run("SecondFrameReportsDuplicate", func(t *testing.T) {
		fx := setupAttendanceHandler(t, []facesvc.Face{goodFace(3)})
		enrolledStudent(fx.students, "EN001", "Ada Vondrak", "Computer", 3)
		fx.sessions.AddSession(activeSession("session_1", time.Minute, 20*time.Minute))

		body := map[string]string{"session_id": "session_1", "image": testImageDataURL(t)}
		rec := httptest.NewRecorder()
		fx.handler.Mark(rec, jsonRequest(t, "POST", "/api/attendance/real-mark", body))
		assertStatusCode(t, rec, http.StatusOK)

		rec = httptest.NewRecorder()
		fx.handler.Mark(rec, jsonRequest(t, "POST", "/api/attendance/real-mark", body))
		assertStatusCode(t, rec, http.StatusOK)

		var resp markResponse
		parseJSONResponse(t, rec, &resp)
		face := resp.Faces[0]
		if face.Status != faceDuplicate || !face.AlreadyMarked {
			t.Errorf("expected duplicate result, got %+v", face)
		}
		if resp.Summary.DuplicateAttempts != 1 || resp.Summary.SuccessfulMarkings != 0 {
			t.Errorf("unexpected summary: %+v", resp.Summary)
		}
		if len(fx.records.InsertCalls) != 1 {
			t.Errorf("expected no second insert, got %d", len(fx.records.InsertCalls))
		}
	})

	t.Run("NoFacesDetected", func(t *testing.T) {
		fx := setupAttendanceHandler(t, nil)
		fx.sessions.AddSession(activeSession("session_1", time.Minute, 20*time.Minute))

		req := jsonRequest(t, "POST", "/api/attendance/real-mark", map[string]string{
			"session_id": "session_1",
			"image":      testImageDataURL(t),
		})
		rec := httptest.NewRecorder()
		fx.handler.Mark(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp struct {
			Success bool         `json:"success"`
			Message string       `json:"message"`
			Faces   []faceResult `json:"faces"`
		}
		parseJSONResponse(t, rec, &resp)
		if !resp.Success || resp.Message != "No faces detected" {
			t.Errorf("unexpected response: %+v", resp)
		}
		if resp.Faces == nil || len(resp.Faces) != 0 {
			t.Errorf("expected empty faces array, got %+v", resp.Faces)
		}
		if len(fx.records.InsertCalls) != 0 {
			t.Errorf("expected no record inserts, got %d", len(fx.records.InsertCalls))
		}
	})

	t.Run("RaceLostToConstraintIsDuplicate", func(t *testing.T) {
		fx := setupAttendanceHandler(t, []facesvc.Face{goodFace(3)})
		enrolledStudent(fx.students, "EN001", "Ada Vondrak", "Computer", 3)
		fx.sessions.AddSession(activeSession("session_1", time.Minute, 20*time.Minute))

		// The pre-check misses but the store's uniqueness rule still fires.
		fx.records.MarkedError = nil
		session, _ := fx.sessions.GetByCode(httptest.NewRequest("GET", "/", nil).Context(), "session_1")
		fx.records.Insert(httptest.NewRequest("GET", "/", nil).Context(), &database.AttendanceRecord{
			SessionID:    session.ID,
			EnrollmentNo: "EN001",
			StudentName:  "Ada Vondrak",
			Status:       database.RecordPresent,
		})
		fx.records.MarkedError = database.ErrDuplicateRecord // force pre-check to error path

		req := jsonRequest(t, "POST", "/api/attendance/real-mark", map[string]string{
			"session_id": "session_1",
			"image":      testImageDataURL(t),
		})
		rec := httptest.NewRecorder()
		fx.handler.Mark(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp markResponse
		parseJSONResponse(t, rec, &resp)
		if resp.Faces[0].Status != faceDuplicate {
			t.Errorf("expected constraint violation classified as duplicate, got %+v", resp.Faces[0])
		}
	})

	t.Run("UnknownFaceIsNoMatch", func(t *testing.T) {
		fx := setupAttendanceHandler(t, []facesvc.Face{goodFace(200)})
		enrolledStudent(fx.students, "EN001", "Ada Vondrak", "Computer", 3)
		fx.sessions.AddSession(activeSession("session_1", time.Minute, 20*time.Minute))

		req := jsonRequest(t, "POST", "/api/attendance/real-mark", map[string]string{
			"session_id": "session_1",
			"image":      testImageDataURL(t),
		})
		rec := httptest.NewRecorder()
		fx.handler.Mark(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp markResponse
		parseJSONResponse(t, rec, &resp)
		if resp.Faces[0].Status != faceNoMatch {
			t.Errorf("expected no_match, got %+v", resp.Faces[0])
		}
		if resp.Summary.NoMatches != 1 {
			t.Errorf("unexpected summary: %+v", resp.Summary)
		}
	})

	t.Run("LowQualityFaceIsError", func(t *testing.T) {
		face := goodFace(3)
		face.DetScore = 0.4
		fx := setupAttendanceHandler(t, []facesvc.Face{face})
		enrolledStudent(fx.students, "EN001", "Ada Vondrak", "Computer", 3)
		fx.sessions.AddSession(activeSession("session_1", time.Minute, 20*time.Minute))

		req := jsonRequest(t, "POST", "/api/attendance/real-mark", map[string]string{
			"session_id": "session_1",
			"image":      testImageDataURL(t),
		})
		rec := httptest.NewRecorder()
		fx.handler.Mark(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp markResponse
		parseJSONResponse(t, rec, &resp)
		if resp.Faces[0].Status != faceError {
			t.Errorf("expected error status, got %+v", resp.Faces[0])
		}
	})

	t.Run("SessionNotFound", func(t *testing.T) {
		fx := setupAttendanceHandler(t, []facesvc.Face{goodFace(3)})

		req := jsonRequest(t, "POST", "/api/attendance/real-mark", map[string]string{
			"session_id": "nope",
			"image":      testImageDataURL(t),
		})
		rec := httptest.NewRecorder()
		fx.handler.Mark(rec, req)

		assertStatusCode(t, rec, http.StatusNotFound)
		assertJSONError(t, rec, "Session not found")
	})

	t.Run("EndedSessionRejected", func(t *testing.T) {
		fx := setupAttendanceHandler(t, []facesvc.Face{goodFace(3)})
		ended := activeSession("session_1", time.Hour, 20*time.Minute)
		ended.Status = database.SessionEnded
		fx.sessions.AddSession(ended)

		req := jsonRequest(t, "POST", "/api/attendance/real-mark", map[string]string{
			"session_id": "session_1",
			"image":      testImageDataURL(t),
		})
		rec := httptest.NewRecorder()
		fx.handler.Mark(rec, req)

		assertStatusCode(t, rec, http.StatusBadRequest)
		assertJSONError(t, rec, "Session is not active")
	})

	t.Run("OverdueSessionRejected", func(t *testing.T) {
		fx := setupAttendanceHandler(t, []facesvc.Face{goodFace(3)})
		fx.sessions.AddSession(activeSession("session_1", time.Hour, 20*time.Minute))

		req := jsonRequest(t, "POST", "/api/attendance/real-mark", map[string]string{
			"session_id": "session_1",
			"image":      testImageDataURL(t),
		})
		rec := httptest.NewRecorder()
		fx.handler.Mark(rec, req)

		assertStatusCode(t, rec, http.StatusBadRequest)
		assertJSONError(t, rec, "Session is not active")
	})

	t.Run("MissingFields", func(t *testing.T) {
		fx := setupAttendanceHandler(t, nil)

		req := jsonRequest(t, "POST", "/api/attendance/real-mark", map[string]string{
			"session_id": "session_1",
		})
		rec := httptest.NewRecorder()
		fx.handler.Mark(rec, req)

		assertStatusCode(t, rec, http.StatusBadRequest)
		assertJSONError(t, rec, "Missing session_id or image")
	})
}

func TestSessionAttendance(t *testing.T) {
	fx := setupAttendanceHandler(t, nil)
	fx.sessions.AddSession(activeSession("session_1", time.Minute, 20*time.Minute))
	session, _ := fx.sessions.GetByCode(httptest.NewRequest("GET", "/", nil).Context(), "session_1")
	fx.records.Insert(httptest.NewRequest("GET", "/", nil).Context(), &database.AttendanceRecord{
		SessionID:    session.ID,
		EnrollmentNo: "EN001",
		StudentName:  "Ada Vondrak",
		Status:       database.RecordPresent,
		Confidence:   91.5,
	})

	req := httptest.NewRequest("GET", "/api/attendance/session/session_1/attendance", nil)
	req = requestWithChiParams(req, map[string]string{"code": "session_1"})
	rec := httptest.NewRecorder()
	fx.handler.SessionAttendance(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp struct {
		Success           bool           `json:"success"`
		SessionID         string         `json:"session_id"`
		AttendanceRecords []recordJSON   `json:"attendance_records"`
		TotalPresent      int            `json:"total_present"`
		SessionInfo       map[string]any `json:"session_info"`
	}
	parseJSONResponse(t, rec, &resp)
	if !resp.Success || resp.SessionID != "session_1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.TotalPresent != 1 || len(resp.AttendanceRecords) != 1 {
		t.Fatalf("expected one record, got %+v", resp)
	}
	if resp.AttendanceRecords[0].EnrollmentNo != "EN001" {
		t.Errorf("unexpected record: %+v", resp.AttendanceRecords[0])
	}
	if resp.SessionInfo["subject"] != "Databases" {
		t.Errorf("unexpected session info: %+v", resp.SessionInfo)
	}
}

func TestExportCSV(t *testing.T) {
	fx := setupAttendanceHandler(t, nil)
	fx.sessions.AddSession(activeSession("session_1", time.Minute, 20*time.Minute))
	session, _ := fx.sessions.GetByCode(httptest.NewRequest("GET", "/", nil).Context(), "session_1")
	fx.records.Insert(httptest.NewRequest("GET", "/", nil).Context(), &database.AttendanceRecord{
		SessionID:    session.ID,
		EnrollmentNo: "EN001",
		StudentName:  "Ada Vondrak",
		Status:       database.RecordPresent,
		Confidence:   91.5,
	})

	req := httptest.NewRequest("GET", "/api/attendance/session/session_1/export", nil)
	req = requestWithChiParams(req, map[string]string{"code": "session_1"})
	rec := httptest.NewRecorder()
	fx.handler.ExportCSV(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attendance_session_1.csv") {
		t.Errorf("unexpected Content-Disposition: %s", cd)
	}
	body := rec.Body.String()
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines:\n%s", len(lines), body)
	}
	if !strings.HasPrefix(lines[0], "enrollment_no,student_name") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "EN001") || !strings.Contains(lines[1], "91.5") {
		t.Errorf("unexpected row: %s", lines[1])
	}
}

func TestMyAttendance(t *testing.T) {
	fx := setupAttendanceHandler(t, nil)
	ctx := httptest.NewRequest("GET", "/", nil).Context()
	fx.records.Insert(ctx, &database.AttendanceRecord{
		SessionID: "sess-a", EnrollmentNo: "EN001", StudentName: "Ada Vondrak", Status: database.RecordPresent,
	})
	fx.records.Insert(ctx, &database.AttendanceRecord{
		SessionID: "sess-b", EnrollmentNo: "EN001", StudentName: "Ada Vondrak", Status: database.RecordPresent,
	})
	fx.records.Insert(ctx, &database.AttendanceRecord{
		SessionID: "sess-a", EnrollmentNo: "EN002", StudentName: "Borek Maly", Status: database.RecordPresent,
	})

	req := httptest.NewRequest("GET", "/api/attendance/my/EN001", nil)
	req = requestWithChiParams(req, map[string]string{"enrollment": "EN001"})
	rec := httptest.NewRecorder()
	fx.handler.MyAttendance(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp struct {
		Count   int          `json:"count"`
		Records []recordJSON `json:"records"`
	}
	parseJSONResponse(t, rec, &resp)
	if resp.Count != 2 || len(resp.Records) != 2 {
		t.Errorf("expected two records for EN001, got %+v", resp)
	}
}
