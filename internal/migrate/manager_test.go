package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newManager(t *testing.T, files fstest.MapFS) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewManager(db, files, WithClock(func() time.Time { return seedTime })), mock
}

func TestSeedAppliesPendingInOrder(t *testing.T) {
	files := fstest.MapFS{
		"002_more.sql":  {Data: []byte("insert into b values ('x;y');")},
		"001_first.sql": {Data: []byte("-- comment; ignored\ninsert into a values (1);\ninsert into a values (2);")},
		"000_done.sql":  {Data: []byte("select 1;")},
		"README.md":     {Data: []byte("not sql")},
	}
	m, mock := newManager(t, files)

	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("000_done.sql"))

	mock.ExpectBegin()
	mock.ExpectExec(`insert into a values \(1\)`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`insert into a values \(2\)`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into schema_seeds").WithArgs("001_first.sql", seedTime).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`insert into b values \('x;y'\)`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into schema_seeds").WithArgs("002_more.sql", seedTime).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := m.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001_first.sql", "002_more.sql"}, applied)
}

func TestSeedStopsOnFailure(t *testing.T) {
	m, mock := newManager(t, fstest.MapFS{"001.sql": {Data: []byte("insert into a values (1);")}})

	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("insert into a").WillReturnError(errors.New("relation a does not exist"))
	mock.ExpectRollback()

	applied, err := m.Seed(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply seed 001.sql")
	assert.Empty(t, applied)
}

func TestApplied(t *testing.T) {
	m, mock := newManager(t, nil)
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_seeds order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001.sql").AddRow("002.sql"))

	got, err := m.Applied(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001.sql", "002.sql"}, got)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); -- trailing; comment\nupdate t set x = 1 - 2;\n")
	var trimmed []string
	for _, s := range stmts {
		if s = strings.TrimSpace(s); s != "" {
			trimmed = append(trimmed, s)
		}
	}
	assert.Equal(t, []string{"insert into t values ('a;b');", "update t set x = 1 - 2;"}, trimmed)
}
