package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSN(t *testing.T) {
	tests := []struct {
		in      string
		dialect Dialect
		dsn     string
	}{
		{"postgres://u:p@db:5432/cmdkit", Postgres, "postgres://u:p@db:5432/cmdkit"},
		{"postgresql://db/cmdkit", Postgres, "postgresql://db/cmdkit"},
		{"host=db dbname=cmdkit sslmode=disable", Postgres, "host=db dbname=cmdkit sslmode=disable"},
		{"sqlite:///tmp/cmdkit.db", SQLite, "/tmp/cmdkit.db"},
		{"sqlite:data/cmdkit.db", SQLite, "data/cmdkit.db"},
		{"file:cmdkit.db?cache=shared", SQLite, "file:cmdkit.db?cache=shared"},
		{"data/cmdkit.db", SQLite, "data/cmdkit.db"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			dialect, dsn, err := ParseDSN(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, dialect)
			assert.Equal(t, tt.dsn, dsn)
		})
	}

	_, _, err := ParseDSN("  ")
	assert.Error(t, err)
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$2", Postgres.Placeholder(2))
	assert.Equal(t, "?", SQLite.Placeholder(2))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "postgres://u:xxxxx@db/cmdkit", Redact("postgres://u:secret@db/cmdkit"))
	assert.Equal(t, "data/cmdkit.db", Redact("data/cmdkit.db"))
}

func TestLocatorPicksFirstReachable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	var tried []string
	open := func(_ context.Context, name string) (*sql.DB, error) {
		tried = append(tried, name)
		if name == "java:/comp/env/RawBonitaDS" {
			return nil, errors.New("no such datasource")
		}
		return db, nil
	}

	l := NewLocator([]string{"java:/comp/env/RawBonitaDS", "secondary", "tertiary"}, open)
	got, name, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Same(t, db, got)
	assert.Equal(t, "secondary", name)
	assert.Equal(t, []string{"java:/comp/env/RawBonitaDS", "secondary"}, tried)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLocatorSkipsFailedPing(t *testing.T) {
	down, downMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	downMock.ExpectPing().WillReturnError(errors.New("connection refused"))
	downMock.ExpectPing()
	downMock.ExpectClose()

	up, upMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	upMock.ExpectPing()
	upMock.ExpectClose()

	opened := map[string]int{}
	pools := map[string]*sql.DB{"primary": down, "secondary": up}
	l := NewLocator([]string{"primary", "secondary"}, func(_ context.Context, name string) (*sql.DB, error) {
		opened[name]++
		return pools[name], nil
	})

	_, name, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secondary", name)

	// The failed pool is kept open, not closed under a concurrent holder,
	// and serves again once its ping succeeds.
	db, name, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "primary", name)
	assert.Same(t, down, db)
	assert.Equal(t, 1, opened["primary"])

	require.NoError(t, l.Close())
	require.NoError(t, downMock.ExpectationsWereMet())
	require.NoError(t, upMock.ExpectationsWereMet())
}

func TestLocatorNoneAvailable(t *testing.T) {
	l := NewLocator([]string{"a", "b"}, func(context.Context, string) (*sql.DB, error) {
		return nil, errors.New("unreachable")
	})
	_, _, err := l.Locate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDatasourceUnavailable)
	assert.ErrorContains(t, err, "a: unreachable")
	assert.ErrorContains(t, err, "b: unreachable")

	_, _, err = NewLocator(nil, nil).Locate(context.Background())
	assert.ErrorIs(t, err, ErrDatasourceUnavailable)
}

func TestLocatorWithSQLite(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "cmdkit.db")
	bad := filepath.Join(dir, "missing", "nested", "cmdkit.db")

	l := NewLocator([]string{bad, good}, nil)
	defer l.Close()

	db, name, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, good, name)

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)

	again, _, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Same(t, db, again)
}
