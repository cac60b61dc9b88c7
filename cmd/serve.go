package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/facemark/facemark/internal/config"
	"github.com/facemark/facemark/internal/database/postgres"
	"github.com/facemark/facemark/internal/facesvc"
	"github.com/facemark/facemark/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance web server",
	Long: `Start the Facemark web server.
The server exposes the JSON API used by the browser frontend: student
enrollment, session management, and camera-frame attendance marking.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session cookies (defaults to random)")
}

// initStudentHNSW builds or loads the student embedding HNSW index for fast
// similarity search during attendance marking.
func initStudentHNSW(ctx context.Context, studentRepo *postgres.StudentRepository, indexPath string) {
	if indexPath != "" {
		fmt.Printf("Loading student HNSW index from %s...\n", indexPath)
	} else {
		fmt.Printf("Building in-memory HNSW index for face matching...\n")
	}
	if err := studentRepo.EnableHNSW(ctx, indexPath); err != nil {
		fmt.Printf("Warning: Failed to build student HNSW index: %v\n", err)
		fmt.Printf("Face matching will use PostgreSQL queries (slower)\n")
	} else if indexPath != "" {
		fmt.Printf("Student HNSW index ready with %d embeddings (persisted to %s)\n", studentRepo.HNSWCount(), indexPath)
	} else {
		fmt.Printf("Student HNSW index built with %d embeddings (in-memory only)\n", studentRepo.HNSWCount())
	}
}

// resolveServeFlags overrides config values with command-line flags where set.
func resolveServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Web.Port = mustGetInt(cmd, "port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Web.Host = mustGetString(cmd, "host")
	}
	if secret := mustGetString(cmd, "session-secret"); secret != "" {
		cfg.Web.SessionSecret = secret
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeFlags(cmd, cfg)

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.FaceService.URL == "" {
		return errors.New("FACE_SERVICE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	pool := postgres.GetGlobalPool()
	studentRepo := postgres.NewStudentRepository(pool)
	ctx := context.Background()

	initStudentHNSW(ctx, studentRepo, cfg.Database.HNSWIndexPath)

	stores := web.Stores{
		Students: studentRepo,
		Sessions: postgres.NewAttendanceSessionRepository(pool),
		Records:  postgres.NewAttendanceRecordRepository(pool),
		Users:    postgres.NewUserRepository(pool),
		DB:       pool,
	}
	sessionRepo := postgres.NewWebSessionRepository(pool)
	fmt.Printf("Session persistence enabled (PostgreSQL)\n")

	faces := facesvc.NewClient(cfg.FaceService.URL, cfg.FaceService.Model)
	if err := faces.Health(ctx); err != nil {
		fmt.Printf("Warning: face service at %s is not responding: %v\n", cfg.FaceService.URL, err)
		fmt.Printf("Attendance marking will fail until it comes up\n")
	} else {
		fmt.Printf("Face service ready (%s, model %s)\n", cfg.FaceService.URL, faces.Model())
	}

	server := web.NewServer(cfg, stores, faces, sessionRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		if err := studentRepo.SaveHNSWIndex(); err != nil {
			fmt.Printf("Warning: failed to save student HNSW index: %v\n", err)
		} else if cfg.Database.HNSWIndexPath != "" {
			fmt.Println("Student HNSW index saved to disk")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Facemark API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
