package main

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedDirectory_IsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM drives").
		WithArgs(seedDrive.company, seedDrive.role).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("INSERT INTO drives").
		WithArgs(seedDrive.company, seedDrive.role, seedDrive.round).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))

	// student 1 is new, student 2 already exists with its application
	mock.ExpectQuery("INSERT INTO students").
		WithArgs("student.001@seed.placement.test", sqlmock.AnyArg(), "ECE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(101, true))
	mock.ExpectExec("INSERT INTO drive_applications").
		WithArgs(4, 101, "shortlisted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO students").
		WithArgs("student.002@seed.placement.test", sqlmock.AnyArg(), "EEE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(57, false))
	mock.ExpectExec("INSERT INTO drive_applications").
		WithArgs(4, 57, "applied").
		WillReturnResult(sqlmock.NewResult(0, 0))

	summary, err := seedDirectory(context.Background(), db, 2)

	require.NoError(t, err)
	assert.Equal(t, &seedSummary{DriveID: 4, Students: 1, Applications: 1}, summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedDirectory_ReusesDrive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM drives").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))

	summary, err := seedDirectory(context.Background(), db, 0)

	require.NoError(t, err)
	assert.Equal(t, 4, summary.DriveID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["migrate"])
	assert.True(t, names["seed"])
	assert.True(t, names["reconcile"])
	assert.Len(t, migrateCmd.Commands(), 3)
}
