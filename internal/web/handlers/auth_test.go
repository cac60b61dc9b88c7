package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/database/mock"
	"github.com/facemark/facemark/internal/web/middleware"
)

func setupAuthHandler(t *testing.T) (*AuthHandler, *mock.MockUserStore, *mock.MockStudentStore) {
	t.Helper()
	users := mock.NewMockUserStore()
	students := mock.NewMockStudentStore()
	sm := middleware.NewSessionManager("test-secret", nil)
	t.Cleanup(sm.Stop)
	return NewAuthHandler(users, students, sm), users, students
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return string(hash)
}

func TestSignup(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, users, _ := setupAuthHandler(t)

		req := jsonRequest(t, "POST", "/api/signup", map[string]string{
			"username": "Jordan",
			"email":    "Jordan@Example.com",
			"password": "hunter22",
			"userType": "teacher",
		})
		rec := httptest.NewRecorder()
		handler.Signup(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp map[string]any
		parseJSONResponse(t, rec, &resp)
		if resp["success"] != true {
			t.Errorf("expected success=true, got %v", resp["success"])
		}
		if resp["user_id"] == "" {
			t.Error("expected a user_id in the response")
		}

		stored, err := users.GetByEmailRole(req.Context(), "jordan@example.com", database.RoleTeacher)
		if err != nil || stored == nil {
			t.Fatalf("expected account stored under lowercased email, got %v, %v", stored, err)
		}
		if bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("hunter22")) != nil {
			t.Error("stored password hash does not verify")
		}
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		handler, users, _ := setupAuthHandler(t)
		users.AddUser(database.User{Email: "taken@example.com", Role: database.RoleStudent})

		req := jsonRequest(t, "POST", "/api/signup", map[string]string{
			"username": "Sam",
			"email":    "taken@example.com",
			"password": "pw123456",
		})
		rec := httptest.NewRecorder()
		handler.Signup(rec, req)

		assertStatusCode(t, rec, http.StatusBadRequest)
		assertJSONError(t, rec, "Email already registered")
	})

	t.Run("DuplicateEmailOtherRole", func(t *testing.T) {
		handler, users, _ := setupAuthHandler(t)
		users.AddUser(database.User{Email: "taken@example.com", Role: database.RoleTeacher})

		// Signing up as a student with an email already holding a teacher
		// account is rejected just the same.
		req := jsonRequest(t, "POST", "/api/signup", map[string]string{
			"username": "Sam",
			"email":    "Taken@Example.com",
			"password": "pw123456",
			"userType": "student",
		})
		rec := httptest.NewRecorder()
		handler.Signup(rec, req)

		assertStatusCode(t, rec, http.StatusBadRequest)
		assertJSONError(t, rec, "Email already registered")
	})

	t.Run("EmailCheckError", func(t *testing.T) {
		handler, users, _ := setupAuthHandler(t)
		users.ExistsError = context.DeadlineExceeded

		req := jsonRequest(t, "POST", "/api/signup", map[string]string{
			"username": "Sam",
			"email":    "sam@example.com",
			"password": "pw123456",
		})
		rec := httptest.NewRecorder()
		handler.Signup(rec, req)

		assertStatusCode(t, rec, http.StatusInternalServerError)
		assertJSONError(t, rec, "Registration failed")
	})

	t.Run("MissingFields", func(t *testing.T) {
		handler, _, _ := setupAuthHandler(t)

		req := jsonRequest(t, "POST", "/api/signup", map[string]string{
			"email": "nobody@example.com",
		})
		rec := httptest.NewRecorder()
		handler.Signup(rec, req)

		assertStatusCode(t, rec, http.StatusBadRequest)
		assertJSONError(t, rec, "All fields required")
	})

	t.Run("UnknownUserType", func(t *testing.T) {
		handler, _, _ := setupAuthHandler(t)

		req := jsonRequest(t, "POST", "/api/signup", map[string]string{
			"username": "Sam",
			"email":    "sam@example.com",
			"password": "pw123456",
			"userType": "admin",
		})
		rec := httptest.NewRecorder()
		handler.Signup(rec, req)

		assertStatusCode(t, rec, http.StatusBadRequest)
	})
}

func TestSignin(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, users, _ := setupAuthHandler(t)
		users.AddUser(database.User{
			Email:        "teacher@example.com",
			PasswordHash: hashPassword(t, "secret99"),
			Role:         database.RoleTeacher,
		})

		req := jsonRequest(t, "POST", "/api/signin", map[string]string{
			"email":    "teacher@example.com",
			"password": "secret99",
			"userType": "teacher",
		})
		rec := httptest.NewRecorder()
		handler.Signin(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp struct {
			Success  bool     `json:"success"`
			UserType string   `json:"userType"`
			User     userInfo `json:"user"`
		}
		parseJSONResponse(t, rec, &resp)
		if !resp.Success || resp.UserType != "teacher" {
			t.Errorf("unexpected response: %+v", resp)
		}
		if resp.User.Email != "teacher@example.com" {
			t.Errorf("expected user email in payload, got %q", resp.User.Email)
		}

		cookies := rec.Result().Cookies()
		found := false
		for _, c := range cookies {
			if c.Name == "facemark_session" && c.Value != "" {
				found = true
			}
		}
		if !found {
			t.Error("expected a session cookie to be set")
		}
	})

	t.Run("AttachesStudentRecord", func(t *testing.T) {
		handler, users, students := setupAuthHandler(t)
		users.AddUser(database.User{
			Email:        "en001@example.com",
			PasswordHash: hashPassword(t, "secret99"),
			Role:         database.RoleStudent,
		})
		enrolledStudent(students, "EN001", "Ada Vondrak", "Computer", 3)

		req := jsonRequest(t, "POST", "/api/signin", map[string]string{
			"email":    "EN001@example.com",
			"password": "secret99",
			"userType": "student",
		})
		rec := httptest.NewRecorder()
		handler.Signin(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp struct {
			User userInfo `json:"user"`
		}
		parseJSONResponse(t, rec, &resp)
		if !resp.User.HasStudentRecord {
			t.Error("expected hasStudentRecord=true")
		}
		if resp.User.EnrollmentNo != "EN001" || resp.User.StudentName != "Ada Vondrak" {
			t.Errorf("unexpected student info: %+v", resp.User)
		}
	})

	t.Run("WrongPassword", func(t *testing.T) {
		handler, users, _ := setupAuthHandler(t)
		users.AddUser(database.User{
			Email:        "teacher@example.com",
			PasswordHash: hashPassword(t, "secret99"),
			Role:         database.RoleTeacher,
		})

		req := jsonRequest(t, "POST", "/api/signin", map[string]string{
			"email":    "teacher@example.com",
			"password": "wrong",
			"userType": "teacher",
		})
		rec := httptest.NewRecorder()
		handler.Signin(rec, req)

		assertStatusCode(t, rec, http.StatusUnauthorized)
		assertJSONError(t, rec, "Invalid password")
	})

	t.Run("NoAccountForRole", func(t *testing.T) {
		handler, users, _ := setupAuthHandler(t)
		users.AddUser(database.User{
			Email:        "teacher@example.com",
			PasswordHash: hashPassword(t, "secret99"),
			Role:         database.RoleTeacher,
		})

		req := jsonRequest(t, "POST", "/api/signin", map[string]string{
			"email":    "teacher@example.com",
			"password": "secret99",
			"userType": "student",
		})
		rec := httptest.NewRecorder()
		handler.Signin(rec, req)

		assertStatusCode(t, rec, http.StatusUnauthorized)
		assertJSONError(t, rec, "No student account found with this email")
	})
}

func TestLogout(t *testing.T) {
	handler, _, _ := setupAuthHandler(t)

	req := httptest.NewRequest("POST", "/api/logout", nil)
	rec := httptest.NewRecorder()
	handler.Logout(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp map[string]any
	parseJSONResponse(t, rec, &resp)
	if resp["success"] != true {
		t.Errorf("expected success=true, got %v", resp["success"])
	}
}

func TestProfile(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, users, _ := setupAuthHandler(t)
		users.AddUser(database.User{
			Email: "user@example.com",
			Role:  database.RoleTeacher,
		})

		req := httptest.NewRequest("GET", "/api/user/profile", nil)
		req = requestWithSession(req, database.RoleTeacher)
		rec := httptest.NewRecorder()
		handler.Profile(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp struct {
			Success bool     `json:"success"`
			User    userInfo `json:"user"`
		}
		parseJSONResponse(t, rec, &resp)
		if !resp.Success || resp.User.Email != "user@example.com" {
			t.Errorf("unexpected profile response: %+v", resp)
		}
	})

	t.Run("NoSession", func(t *testing.T) {
		handler, _, _ := setupAuthHandler(t)

		req := httptest.NewRequest("GET", "/api/user/profile", nil)
		rec := httptest.NewRecorder()
		handler.Profile(rec, req)

		assertStatusCode(t, rec, http.StatusUnauthorized)
	})
}

func TestSwitchRole(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, users, _ := setupAuthHandler(t)
		users.AddUser(database.User{Email: "user@example.com", Role: database.RoleTeacher})
		users.AddUser(database.User{Email: "user@example.com", Role: database.RoleStudent})

		req := jsonRequest(t, "POST", "/api/switch-role", map[string]string{
			"email":      "user@example.com",
			"targetType": "student",
		})
		req = requestWithSession(req, database.RoleTeacher)
		rec := httptest.NewRecorder()
		handler.SwitchRole(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		var resp struct {
			Success  bool   `json:"success"`
			UserType string `json:"userType"`
		}
		parseJSONResponse(t, rec, &resp)
		if !resp.Success || resp.UserType != "student" {
			t.Errorf("unexpected switch-role response: %+v", resp)
		}
	})

	t.Run("TargetRoleMissing", func(t *testing.T) {
		handler, users, _ := setupAuthHandler(t)
		users.AddUser(database.User{Email: "user@example.com", Role: database.RoleTeacher})

		req := jsonRequest(t, "POST", "/api/switch-role", map[string]string{
			"email":      "user@example.com",
			"targetType": "student",
		})
		req = requestWithSession(req, database.RoleTeacher)
		rec := httptest.NewRecorder()
		handler.SwitchRole(rec, req)

		assertStatusCode(t, rec, http.StatusNotFound)
		assertJSONError(t, rec, "No student account found for this email")
	})
}
