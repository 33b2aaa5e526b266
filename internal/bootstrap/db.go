package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/storycanvas-app/collab-backend/config"
	"github.com/storycanvas-app/collab-backend/internal/storage/postgres"
)

// OpenDB connects to Postgres and, when migrate is set, applies the schema.
func OpenDB(ctx context.Context, cfg *config.DatabaseConfig, migrate bool) (*sql.DB, error) {
	db, err := postgres.NewConnection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if migrate {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
	}

	return db, nil
}
