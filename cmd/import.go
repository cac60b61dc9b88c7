package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/facemark/facemark/internal/config"
	"github.com/facemark/facemark/internal/database"
)

var importCmd = &cobra.Command{
	Use:   "import <csv-file>",
	Short: "Bulk import student profiles from a CSV file",
	Long: `Import student profiles from a CSV file.

The file must have a header row. Recognized columns (in any order):
enrollment_no, full_name, department, year, division, semester, email,
phone_number. The first four are required.

Imported students have no face samples, so they will appear on class
rosters but cannot be recognized until they enroll through the web UI.

Examples:
  # Preview without writing
  facemark import roster.csv --dry-run

  # Import
  facemark import roster.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Bool("dry-run", false, "Parse and validate without writing to the database")
}

// csvColumns maps header names to field indexes for one import file.
type csvColumns map[string]int

var requiredColumns = []string{"enrollment_no", "full_name", "department", "year"}

func parseCSVHeader(header []string) (csvColumns, error) {
	cols := make(csvColumns, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return cols, nil
}

func (c csvColumns) get(record []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (c csvColumns) student(record []string) (*database.Student, error) {
	s := &database.Student{
		EnrollmentNo: c.get(record, "enrollment_no"),
		FullName:     c.get(record, "full_name"),
		Department:   c.get(record, "department"),
		Year:         c.get(record, "year"),
		Division:     c.get(record, "division"),
		Semester:     c.get(record, "semester"),
		Email:        strings.ToLower(c.get(record, "email")),
		PhoneNumber:  c.get(record, "phone_number"),
	}
	for _, name := range requiredColumns {
		if c.get(record, name) == "" {
			return nil, fmt.Errorf("empty %s", name)
		}
	}
	return s, nil
}

func readImportFile(path string) (csvColumns, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols, err := parseCSVHeader(header)
	if err != nil {
		return nil, nil, err
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		records = append(records, record)
	}
	return cols, records, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")

	cols, records, err := readImportFile(args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No rows to import.")
		return nil
	}

	cfg := config.Load()
	pool, repo, err := openStudentRepo(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	fmt.Printf("Importing %d student profiles\n", len(records))
	if dryRun {
		fmt.Println("DRY RUN - no changes will be written")
	}

	bar := progressbar.NewOptions(len(records),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("students"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	ctx := context.Background()
	startTime := time.Now()
	imported := 0
	skipped := 0
	var rowErrors []string

	for i, record := range records {
		rowNum := i + 2 // 1-based plus header

		student, err := cols.student(record)
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", rowNum, err))
			skipped++
			bar.Add(1)
			continue
		}

		existing, err := repo.GetByEnrollment(ctx, student.EnrollmentNo)
		if err != nil {
			return fmt.Errorf("failed to check enrollment %s: %w", student.EnrollmentNo, err)
		}
		if existing != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: enrollment %s already exists", rowNum, student.EnrollmentNo))
			skipped++
			bar.Add(1)
			continue
		}

		if !dryRun {
			if err := repo.Create(ctx, student, nil); err != nil {
				rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", rowNum, err))
				skipped++
				bar.Add(1)
				continue
			}
		}

		imported++
		bar.Add(1)
	}
	fmt.Println()

	fmt.Println("\nImport complete!")
	fmt.Printf("  Rows:      %d\n", len(records))
	fmt.Printf("  Imported:  %d\n", imported)
	if skipped > 0 {
		fmt.Printf("  Skipped:   %d\n", skipped)
	}
	if dryRun {
		fmt.Printf("  Mode:      DRY RUN\n")
	}
	fmt.Printf("  Duration:  %s\n", formatDuration(time.Since(startTime)))

	for _, msg := range rowErrors {
		fmt.Printf("  %s\n", msg)
	}
	return nil
}

// formatDuration formats a duration as a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
