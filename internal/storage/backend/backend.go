// Package backend opens the column and checkpoint stores selected by the
// configuration and applies their migrations.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"utxo-cohort-lab/internal/config"
	"utxo-cohort-lab/internal/retry"
	"utxo-cohort-lab/internal/storage"
	chstore "utxo-cohort-lab/internal/storage/clickhouse"
	"utxo-cohort-lab/internal/storage/memory"
	"utxo-cohort-lab/internal/storage/migrations"
	pgstore "utxo-cohort-lab/internal/storage/postgres"
	"utxo-cohort-lab/internal/storage/sqlite"
)

// Stores holds the opened stores and the connections behind them.
type Stores struct {
	Columns     storage.ColumnStore
	Checkpoints storage.CheckpointStore

	pools   map[string]*pgstore.Pool
	dbs     map[string]*sqlite.DB
	closers []func()
}

// Close releases every connection.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Open connects the configured backends. A postgres DSN or sqlite path shared
// by the column and checkpoint stores is opened once.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stores{
		pools: make(map[string]*pgstore.Pool),
		dbs:   make(map[string]*sqlite.DB),
	}

	var err error
	switch cfg.Store.Backend {
	case config.BackendMemory:
		s.Columns = memory.NewColumnStore()
	case config.BackendPostgres:
		var pool *pgstore.Pool
		if pool, err = s.postgres(ctx, cfg.Store.PostgresDSN, logger); err == nil {
			s.Columns = pgstore.NewColumnStore(pool)
		}
	case config.BackendClickhouse:
		var conn *chstore.Conn
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Store.ClickhouseDSN, retry.DefaultConfig(), logger)
		if err == nil {
			s.closers = append(s.closers, func() { conn.Close() })
			s.Columns = chstore.NewColumnStore(conn)
		}
	case config.BackendSqlite:
		var db *sqlite.DB
		if db, err = s.sqlite(ctx, cfg.Store.SqlitePath, logger); err == nil {
			s.Columns = sqlite.NewColumnStore(db)
		}
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open column store: %w", err)
	}

	switch cfg.Checkpoint.Backend {
	case config.BackendMemory:
		s.Checkpoints = memory.NewCheckpointStore()
	case config.BackendPostgres:
		var pool *pgstore.Pool
		if pool, err = s.postgres(ctx, cfg.CheckpointPostgresDSN(), logger); err == nil {
			s.Checkpoints = pgstore.NewCheckpointStore(pool)
		}
	case config.BackendSqlite:
		var db *sqlite.DB
		if db, err = s.sqlite(ctx, cfg.CheckpointSqlitePath(), logger); err == nil {
			s.Checkpoints = sqlite.NewCheckpointStore(db)
		}
	default:
		err = fmt.Errorf("unsupported checkpoint backend %q", cfg.Checkpoint.Backend)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	logger.Info("stores opened",
		zap.String("columns", cfg.Store.Backend),
		zap.String("checkpoints", cfg.Checkpoint.Backend))
	return s, nil
}

func (s *Stores) postgres(ctx context.Context, dsn string, logger *zap.Logger) (*pgstore.Pool, error) {
	if pool, ok := s.pools[dsn]; ok {
		return pool, nil
	}
	pool, err := pgstore.Connect(ctx, dsn, retry.DefaultConfig(), logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, pool.Close)
	if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
		return nil, err
	}
	s.pools[dsn] = pool
	return pool, nil
}

func (s *Stores) sqlite(ctx context.Context, path string, logger *zap.Logger) (*sqlite.DB, error) {
	if db, ok := s.dbs[path]; ok {
		return db, nil
	}
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { db.Close() })
	if err := migrations.RunSqliteMigrations(ctx, db, logger); err != nil {
		return nil, err
	}
	s.dbs[path] = db
	return db, nil
}
