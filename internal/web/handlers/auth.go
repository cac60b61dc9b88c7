package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/web/middleware"
)

// AuthHandler handles signup, signin and session endpoints.
type AuthHandler struct {
	users          database.UserStore
	students       database.StudentReader
	sessionManager *middleware.SessionManager
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(users database.UserStore, students database.StudentReader, sm *middleware.SessionManager) *AuthHandler {
	return &AuthHandler{
		users:          users,
		students:       students,
		sessionManager: sm,
	}
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	UserType string `json:"userType"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UserType string `json:"userType"`
}

// userInfo is the user payload returned by signin and switch-role.
type userInfo struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	UserType         string `json:"userType"`
	Role             string `json:"role"`
	EnrollmentNo     string `json:"studentId,omitempty"`
	StudentName      string `json:"studentName,omitempty"`
	Department       string `json:"department,omitempty"`
	HasStudentRecord bool   `json:"hasStudentRecord,omitempty"`
}

// normalizeRole maps the frontend userType to a stored role,
// defaulting to student.
func normalizeRole(userType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(userType)) {
	case "", database.RoleStudent:
		return database.RoleStudent, nil
	case database.RoleTeacher:
		return database.RoleTeacher, nil
	default:
		return "", fmt.Errorf("unknown user type %q", userType)
	}
}

// Signup registers a new account.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "All fields required")
		return
	}
	role, err := normalizeRole(req.UserType)
	if err != nil {
		respondError(w, http.StatusBadRequest, "userType must be student or teacher")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	// One account per email across both roles. The unique constraint on
	// users.Create still catches concurrent signups.
	exists, err := h.users.EmailExists(r.Context(), email)
	if err != nil {
		log.Printf("signup email check failed for %s: %v", sanitizeForLog(email), err)
		respondError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	if exists {
		respondError(w, http.StatusBadRequest, "Email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user := &database.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, database.ErrUserExists) {
			respondError(w, http.StatusBadRequest, "Email already registered")
			return
		}
		log.Printf("signup failed for %s: %v", sanitizeForLog(user.Email), err)
		respondError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("%s registered successfully", capitalize(role)),
		"user_id": user.ID,
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Signin authenticates an account and creates a login session.
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Email and password required")
		return
	}
	role, err := normalizeRole(req.UserType)
	if err != nil {
		respondError(w, http.StatusBadRequest, "userType must be student or teacher")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.users.GetByEmailRole(r.Context(), email, role)
	if err != nil {
		log.Printf("signin lookup failed for %s: %v", sanitizeForLog(email), err)
		respondError(w, http.StatusInternalServerError, "Login error")
		return
	}
	if user == nil {
		respondError(w, http.StatusUnauthorized, fmt.Sprintf("No %s account found with this email", role))
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	session, err := h.sessionManager.CreateSession(r.Context(), user.ID, user.Email, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessionManager.SetSessionCookie(w, session)

	info := h.buildUserInfo(r, user)
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("Signed in successfully as %s", role),
		"user":     info,
		"userType": role,
	})
}

// buildUserInfo assembles the user payload, attaching student profile
// details when a student record exists for the email.
func (h *AuthHandler) buildUserInfo(r *http.Request, user *database.User) userInfo {
	info := userInfo{
		ID:       user.ID,
		Email:    user.Email,
		UserType: user.Role,
		Role:     user.Role,
	}
	if user.Role != database.RoleStudent {
		return info
	}
	student, err := h.students.GetByEmail(r.Context(), user.Email)
	if err != nil || student == nil {
		// A student record is not required to sign in.
		return info
	}
	info.EnrollmentNo = student.EnrollmentNo
	info.StudentName = student.FullName
	info.Department = student.Department
	info.HasStudentRecord = true
	return info
}

// Logout deletes the login session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil {
		h.sessionManager.DeleteSession(session.ID)
	}
	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

// Profile returns the signed-in user's profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.users.GetByEmailRole(r.Context(), session.Email, session.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error fetching profile")
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    h.buildUserInfo(r, user),
	})
}

type switchRoleRequest struct {
	Email      string `json:"email"`
	TargetType string `json:"targetType"`
}

// SwitchRole switches the session to the user's account under another role,
// for people holding both a teacher and a student account.
func (h *AuthHandler) SwitchRole(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req switchRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	target, err := normalizeRole(req.TargetType)
	if err != nil || req.TargetType == "" {
		respondError(w, http.StatusBadRequest, "Email and target type required")
		return
	}

	user, err := h.users.GetByEmailRole(r.Context(), session.Email, target)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error switching role")
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("No %s account found for this email", target))
		return
	}

	// Replace the login session with one carrying the target role.
	h.sessionManager.DeleteSession(session.ID)
	newSession, err := h.sessionManager.CreateSession(r.Context(), user.ID, user.Email, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessionManager.SetSessionCookie(w, newSession)

	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("Switched to %s role", target),
		"user":     h.buildUserInfo(r, user),
		"userType": target,
	})
}
