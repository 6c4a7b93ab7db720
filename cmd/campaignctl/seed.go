package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"placementmail/internal/repository"
)

var (
	seedStudents int
	seedClear    bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert a demo drive with students and applications",
	Long: `Insert a demo placement drive and a batch of students who applied to it.
The command is idempotent; students use the pattern student.NNN@seed.placement.test.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if seedClear {
			printWarning("Clearing existing seed data...")
			if err := clearSeedData(cmd.Context(), db); err != nil {
				return err
			}
			printSuccess("✓ Seed data cleared")
		}

		summary, err := seedDirectory(cmd.Context(), db, seedStudents)
		if err != nil {
			return err
		}

		printInfo("\n=== Seeding Summary ===")
		printSuccess(fmt.Sprintf("✓ Drive: %d (%s)", summary.DriveID, seedDrive.company))
		printSuccess(fmt.Sprintf("✓ Students created: %d (skipped %d existing)", summary.Students, seedStudents-summary.Students))
		printSuccess(fmt.Sprintf("✓ Applications created: %d", summary.Applications))
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedStudents, "students", 12, "Number of students to create")
	seedCmd.Flags().BoolVar(&seedClear, "clear", false, "Clear existing seed data before inserting")
}

var seedDrive = struct {
	company, role, round string
}{"Acme Systems", "Graduate Engineer", "Technical Interview"}

// Application statuses cycle so every target type has something to match.
var seedStatuses = []string{"applied", "shortlisted", "applied", "rejected", "shortlisted", "selected"}

var (
	seedFirstNames = []string{"Asha", "Rahul", "Meera", "Arjun", "Priya", "Kiran", "Divya", "Vikram", "Sneha", "Rohan", "Ananya", "Karthik"}
	seedLastNames  = []string{"Rao", "Sharma", "Iyer", "Nair", "Menon", "Reddy", "Das", "Gupta", "Pillai", "Joshi", "Kulkarni", "Bose"}
	seedBranches   = []string{"CSE", "ECE", "EEE", "MECH", "CIVIL", "IT"}
)

type seedSummary struct {
	DriveID      int
	Students     int
	Applications int
}

// seedDirectory inserts the demo drive, count students and one application
// per student. Existing rows are left untouched.
func seedDirectory(ctx context.Context, db repository.DB, count int) (*seedSummary, error) {
	summary := &seedSummary{}

	err := db.QueryRowContext(ctx, `SELECT id FROM drives WHERE company_name = $1 AND role_name = $2`,
		seedDrive.company, seedDrive.role).Scan(&summary.DriveID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up drive: %w", err)
	}
	if err != nil {
		err = db.QueryRowContext(ctx, `
			INSERT INTO drives (company_name, role_name, round_name)
			VALUES ($1, $2, $3)
			RETURNING id
		`, seedDrive.company, seedDrive.role, seedDrive.round).Scan(&summary.DriveID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert drive: %w", err)
		}
	}

	for i := 1; i <= count; i++ {
		email := fmt.Sprintf("student.%03d@seed.placement.test", i)

		// Some students never filled in their name
		var name *string
		if i%7 != 0 {
			n := seedFirstNames[i%len(seedFirstNames)] + " " + seedLastNames[(i*5)%len(seedLastNames)]
			name = &n
		}

		var studentID int
		var inserted bool
		err := db.QueryRowContext(ctx, `
			INSERT INTO students (email, full_name, branch)
			VALUES ($1, $2, $3)
			ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
			RETURNING id, (xmax = 0)
		`, email, name, seedBranches[i%len(seedBranches)]).Scan(&studentID, &inserted)
		if err != nil {
			return summary, fmt.Errorf("failed to insert student %s: %w", email, err)
		}
		if inserted {
			summary.Students++
		}

		result, err := db.ExecContext(ctx, `
			INSERT INTO drive_applications (drive_id, student_id, status)
			VALUES ($1, $2, $3)
			ON CONFLICT (drive_id, student_id) DO NOTHING
		`, summary.DriveID, studentID, seedStatuses[i%len(seedStatuses)])
		if err != nil {
			return summary, fmt.Errorf("failed to insert application for %s: %w", email, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			summary.Applications++
		}
	}

	return summary, nil
}

// clearSeedData removes the demo drive and seeded students. Campaigns of
// the drive keep their job snapshots.
func clearSeedData(ctx context.Context, db repository.DB) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM students WHERE email LIKE '%@seed.placement.test'`); err != nil {
		return fmt.Errorf("failed to delete students: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM drives WHERE company_name = $1 AND role_name = $2`,
		seedDrive.company, seedDrive.role); err != nil {
		return fmt.Errorf("failed to delete drive: %w", err)
	}
	return nil
}
