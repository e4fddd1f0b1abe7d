package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

var sqlTables = []string{
	"endpoints", "response_variants", "endpoint_rows", "environments",
	"collections", "collection_endpoints", "request_records", "settings",
}

func newTestSQLStorage(t *testing.T, dialect, envVar string) Storage {
	t.Helper()

	dsn := os.Getenv(envVar)
	if dsn == "" {
		t.Skipf("%s not set", envVar)
	}

	s, err := NewSQLStorage(dialect, dsn, 100)
	require.NoError(t, err)
	for _, table := range sqlTables {
		_, err := s.db.Exec(`DELETE FROM ` + table)
		require.NoError(t, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStorage_Postgres(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return newTestSQLStorage(t, DialectPostgres, "MOCKPIT_TEST_POSTGRES_DSN")
	})
}

func TestSQLStorage_MySQL(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return newTestSQLStorage(t, DialectMySQL, "MOCKPIT_TEST_MYSQL_DSN")
	})
}

func TestNewSQLStorage_UnsupportedDialect(t *testing.T) {
	_, err := NewSQLStorage("sqlite", "file::memory:", 10)
	require.Error(t, err)
}
