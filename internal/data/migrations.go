package data

import (
	"context"
	"database/sql"

	"github.com/feedsync/feedsync/internal/migrate"
)

// RunMigrations brings the sync runtime schema up to date. Thin delegate so
// callers in the data layer's orbit don't import migrate directly.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}
