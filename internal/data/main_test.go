package data

import (
	"database/sql"
	"testing"

	"github.com/feedsync/feedsync/internal/testutil"
)

// setupRepoDB returns a migrated test database, skipping when none is
// reachable. Data is wiped before and after each test.
func setupRepoDB(t *testing.T) *sql.DB {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() {
		testutil.TeardownTestDB(t, db)
	})
	return db
}
