package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/facemark/facemark/internal/config"
	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/database/postgres"
	"github.com/facemark/facemark/internal/recognize"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Inspect enrolled students",
}

var studentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled students",
	Long: `List enrolled students, optionally filtered by class.

Examples:
  facemark students list
  facemark students list --department Computer --year 2 --division A
  facemark students list --name patel --json`,
	RunE: runStudentsList,
}

var studentsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the number of enrolled students",
	RunE:  runStudentsCount,
}

func init() {
	rootCmd.AddCommand(studentsCmd)
	studentsCmd.AddCommand(studentsListCmd)
	studentsCmd.AddCommand(studentsCountCmd)

	studentsListCmd.Flags().String("department", "", "Filter by department")
	studentsListCmd.Flags().String("year", "", "Filter by year")
	studentsListCmd.Flags().String("division", "", "Filter by division")
	studentsListCmd.Flags().String("name", "", "Filter by name substring (diacritics ignored)")
	studentsListCmd.Flags().Bool("json", false, "Output as JSON")
}

// openStudentRepo connects to PostgreSQL and returns a student repository.
// The caller owns the returned pool.
func openStudentRepo(cfg *config.Config) (*postgres.Pool, *postgres.StudentRepository, error) {
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return pool, postgres.NewStudentRepository(pool), nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// studentListEntry is the JSON shape for students list --json.
type studentListEntry struct {
	EnrollmentNo string `json:"enrollment_no"`
	FullName     string `json:"full_name"`
	Department   string `json:"department"`
	Year         string `json:"year"`
	Division     string `json:"division"`
	Semester     string `json:"semester,omitempty"`
	Email        string `json:"email"`
	RegisteredAt string `json:"registered_at"`
}

func runStudentsList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	pool, repo, err := openStudentRepo(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	filter := database.StudentFilter{
		Department: mustGetString(cmd, "department"),
		Year:       mustGetString(cmd, "year"),
		Division:   mustGetString(cmd, "division"),
		Name:       recognize.NormalizeStudentName(mustGetString(cmd, "name")),
	}

	students, err := repo.List(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("failed to list students: %w", err)
	}

	if mustGetBool(cmd, "json") {
		entries := make([]studentListEntry, 0, len(students))
		for _, s := range students {
			entries = append(entries, studentListEntry{
				EnrollmentNo: s.EnrollmentNo,
				FullName:     s.FullName,
				Department:   s.Department,
				Year:         s.Year,
				Division:     s.Division,
				Semester:     s.Semester,
				Email:        s.Email,
				RegisteredAt: s.RegisteredAt.UTC().Format("2006-01-02"),
			})
		}
		return outputJSON(entries)
	}

	if len(students) == 0 {
		fmt.Println("No students found.")
		return nil
	}

	for _, s := range students {
		fmt.Printf("%-12s %-30s %s/%s/%s\n", s.EnrollmentNo, s.FullName, s.Department, s.Year, s.Division)
	}
	fmt.Printf("\nTotal: %d students\n", len(students))
	return nil
}

func runStudentsCount(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	pool, repo, err := openStudentRepo(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	count, err := repo.Count(context.Background())
	if err != nil {
		return fmt.Errorf("failed to count students: %w", err)
	}

	fmt.Printf("Enrolled students: %d\n", count)
	return nil
}
