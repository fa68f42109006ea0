package testutil

import (
	"database/sql"
	"os"
	"testing"

	"github.com/thehao1505/backend-capstone/internal/config"
	"github.com/thehao1505/backend-capstone/internal/db"
)

// OpenTestDB connects to the Postgres named by TEST_DB_HOST and applies
// migrations. Tests are skipped when the variable is unset.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "feedrec",
		Password: "feedrec_pass",
		DBName:   "feedrec_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}

// Truncate empties the given tables between tests.
func Truncate(t *testing.T, conn *sql.DB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := conn.Exec("TRUNCATE TABLE " + table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}
