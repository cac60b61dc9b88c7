package web

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/web/handlers"
	"github.com/facemark/facemark/internal/web/middleware"
	"github.com/facemark/facemark/internal/web/static"
)

func (s *Server) setupRoutes(sessionManager *middleware.SessionManager) {
	// Create handlers
	authHandler := handlers.NewAuthHandler(s.stores.Users, s.stores.Students, sessionManager)
	studentsHandler := handlers.NewStudentsHandler(s.stores.Students, s.faces, s.matcher)
	sessionsHandler := handlers.NewSessionsHandler(s.stores.Sessions, s.stores.Students)
	attendanceHandler := handlers.NewAttendanceHandler(s.stores.Sessions, s.stores.Records, s.faces, s.matcher)
	demoHandler := handlers.NewDemoHandler(s.faces, s.matcher)
	healthHandler := handlers.NewHealthHandler(s.stores.DB, s.faces)

	// Health check (no auth required)
	s.router.Get("/health", healthHandler.Check)

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.NotFound(handlers.NotFound)
		r.MethodNotAllowed(handlers.MethodNotAllowed)

		// Auth routes
		r.Post("/signup", authHandler.Signup)
		r.Post("/signin", authHandler.Signin)
		r.Post("/logout", authHandler.Logout)

		// Demo recognition (camera setup runs before login)
		r.Post("/demo/recognize", demoHandler.Recognize)
		r.Get("/demo/models/status", demoHandler.ModelsStatus)

		// Everything else requires a login session
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionManager))

			r.Get("/user/profile", authHandler.Profile)
			r.Post("/switch-role", authHandler.SwitchRole)

			// Students
			r.Post("/register-student", studentsHandler.Register)
			r.Get("/students", studentsHandler.List)
			r.Get("/students/count", studentsHandler.Count)
			r.Get("/students/departments", studentsHandler.Departments)
			r.Get("/students/{enrollment}", studentsHandler.Get)
			r.Put("/students/{enrollment}", studentsHandler.Update)
			r.Delete("/students/{enrollment}", studentsHandler.Delete)

			// Attendance
			r.Route("/attendance", func(r chi.Router) {
				r.Get("/active_sessions", sessionsHandler.Active)
				r.Get("/session_status/{code}", sessionsHandler.Status)
				r.Get("/models/status", demoHandler.ModelsStatus)
				r.Post("/real-mark", attendanceHandler.Mark)
				r.Get("/session/{code}/attendance", attendanceHandler.SessionAttendance)
				r.Get("/my/{enrollment}", attendanceHandler.MyAttendance)

				// Session control and export are teacher-only
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(database.RoleTeacher))
					r.Post("/create_session", sessionsHandler.Create)
					r.Post("/end_session", sessionsHandler.End)
					r.Get("/session/{code}/export", attendanceHandler.ExportCSV)
				})
			})
		})
	})

	// Serve static files for frontend (SPA)
	s.router.Get("/*", s.serveSPA)
}

// serveSPA serves the single-page application
func (s *Server) serveSPA(w http.ResponseWriter, r *http.Request) {
	// Check if we have embedded frontend assets
	if static.HasDist() {
		fs := static.GetFileSystem()
		path := r.URL.Path
		if path == "/" {
			path = "/index.html"
		}

		f, err := fs.Open(path)
		if err == nil {
			defer f.Close()

			stat, err := f.Stat()
			if err == nil && !stat.IsDir() {
				// Set content type based on extension
				contentType := "application/octet-stream"
				switch {
				case strings.HasSuffix(path, ".html"):
					contentType = "text/html; charset=utf-8"
				case strings.HasSuffix(path, ".css"):
					contentType = "text/css; charset=utf-8"
				case strings.HasSuffix(path, ".js"):
					contentType = "application/javascript; charset=utf-8"
				case strings.HasSuffix(path, ".json"):
					contentType = "application/json"
				case strings.HasSuffix(path, ".svg"):
					contentType = "image/svg+xml"
				case strings.HasSuffix(path, ".png"):
					contentType = "image/png"
				case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
					contentType = "image/jpeg"
				case strings.HasSuffix(path, ".ico"):
					contentType = "image/x-icon"
				case strings.HasSuffix(path, ".woff2"):
					contentType = "font/woff2"
				case strings.HasSuffix(path, ".woff"):
					contentType = "font/woff"
				}

				w.Header().Set("Content-Type", contentType)

				// Add cache headers for static assets
				if strings.HasPrefix(path, "/assets/") {
					w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
				}

				w.WriteHeader(http.StatusOK)
				io.Copy(w, f)
				return
			}
		}

		// For SPA routing, serve index.html for non-asset paths
		if !strings.HasPrefix(path, "/assets/") {
			indexFile, err := fs.Open("/index.html")
			if err == nil {
				defer indexFile.Close()
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusOK)
				io.Copy(w, indexFile)
				return
			}
		}
	}

	// Fallback: return placeholder page if no frontend is built
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Facemark</title>
    <style>
        body { font-family: system-ui, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #101720; color: #eee; }
        .container { text-align: center; }
        h1 { color: #4fd1c5; }
        p { color: #aaa; }
        a { color: #4fd1c5; }
        code { background: #1d2a38; padding: 2px 8px; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Facemark Attendance</h1>
        <p>Frontend is not built yet. Run <code>make build-web</code> to build the frontend.</p>
        <p>API is available at <a href="/health">/health</a></p>
    </div>
</body>
</html>`))
}
