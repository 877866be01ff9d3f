package postgres

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/studyhub/backend/internal/database"
	"github.com/studyhub/backend/internal/store"
	"github.com/studyhub/backend/internal/store/storetest"
)

// Integration tests run only against a disposable database named by
// TEST_POSTGRES_DSN. Every table is truncated before each case.
func TestStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		if _, err := db.Exec(`TRUNCATE users, problems, background_tasks RESTART IDENTITY CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return New(db)
	})
}
