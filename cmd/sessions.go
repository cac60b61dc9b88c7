package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facemark/facemark/internal/config"
	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/database/postgres"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage attendance sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active attendance sessions",
	RunE:  runSessionsList,
}

var sessionsEndCmd = &cobra.Command{
	Use:   "end <session-code>",
	Short: "End an attendance session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsEnd,
}

var sessionsEndOverdueCmd = &cobra.Command{
	Use:   "end-overdue",
	Short: "End all sessions past their scheduled end time",
	Long: `End every active session whose scheduled end time has passed.
The server does this continuously while running; this command covers
sessions left open by a crash or a long deploy window.`,
	RunE: runSessionsEndOverdue,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsEndCmd)
	sessionsCmd.AddCommand(sessionsEndOverdueCmd)
}

func openSessionRepo(cfg *config.Config) (*postgres.Pool, *postgres.AttendanceSessionRepository, error) {
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return pool, postgres.NewAttendanceSessionRepository(pool), nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	pool, repo, err := openSessionRepo(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	sessions, err := repo.ListActive(context.Background(), database.StudentFilter{})
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%-24s %-20s %s/%s/%s  ends %s\n",
			s.Code, s.Subject, s.Department, s.Year, s.Division,
			s.EndsAt.Local().Format("15:04"))
	}
	fmt.Printf("\nTotal: %d active sessions\n", len(sessions))
	return nil
}

func runSessionsEnd(cmd *cobra.Command, args []string) error {
	code := args[0]

	cfg := config.Load()
	pool, repo, err := openSessionRepo(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ended, err := repo.End(context.Background(), code)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if !ended {
		return fmt.Errorf("session %s not found or already ended", code)
	}

	fmt.Printf("Session %s ended\n", code)
	return nil
}

func runSessionsEndOverdue(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	pool, repo, err := openSessionRepo(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ended, err := repo.EndOverdue(context.Background())
	if err != nil {
		return fmt.Errorf("failed to end overdue sessions: %w", err)
	}

	fmt.Printf("Ended %d overdue sessions\n", ended)
	return nil
}
