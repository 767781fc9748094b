package migrations

import (
	"context"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"utxo-cohort-lab/internal/storage/sqlite"
)

// RunSqliteMigrations applies all embedded SQLite files in lexical order.
func RunSqliteMigrations(ctx context.Context, db *sqlite.DB, logger *zap.Logger) error {
	files, err := sqlFiles(SqliteFS, "sqlite")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(SqliteFS, "sqlite/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		logger.Debug("applied migration", zap.String("backend", "sqlite"), zap.String("file", file))
	}
	return nil
}
