package migrations

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsLoad(t *testing.T) {
	r := &Runner{fs: files, dir: "sql"}

	all, err := r.load()

	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].Version)
	assert.Equal(t, "applicant_directory", all[0].Name)
	assert.Equal(t, "campaign_engine", all[1].Name)
	for _, m := range all {
		assert.NotEmpty(t, m.up, "version %d", m.Version)
		assert.NotEmpty(t, m.down, "version %d", m.Version)
	}
	assert.Contains(t, all[1].up, "send_jobs")
}

func TestLoad_MissingUpScript(t *testing.T) {
	r := &Runner{fs: fstest.MapFS{
		"sql/001_init.down.sql": {Data: []byte("DROP TABLE a;")},
	}, dir: "sql"}

	_, err := r.load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no up script")
}

func newTestRunner(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	return &Runner{db: db, dir: "sql", fs: fstest.MapFS{
		"sql/001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"sql/001_init.down.sql": {Data: []byte("DROP TABLE a;")},
		"sql/002_more.up.sql":   {Data: []byte("CREATE TABLE b (id INT);")},
		"sql/002_more.down.sql": {Data: []byte("DROP TABLE b;")},
		"sql/README.md":         {Data: []byte("ignored")},
	}}, mock
}

func TestUp_AppliesPending(t *testing.T) {
	r, mock := newTestRunner(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(1, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(2, "more").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := r.Up(context.Background())

	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, 2, applied[0].Version)
}

func TestDown_RollsBackLatest(t *testing.T) {
	r, mock := newTestRunner(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).
			AddRow(1, time.Now()).
			AddRow(2, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE b;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM schema_migrations").WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := r.Down(context.Background())

	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "more", m.Name)
}

func TestDown_NothingApplied(t *testing.T) {
	r, mock := newTestRunner(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}))

	m, err := r.Down(context.Background())

	require.NoError(t, err)
	assert.Nil(t, m)
}
