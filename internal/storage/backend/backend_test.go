package backend

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"utxo-cohort-lab/internal/config"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/storage/memory"
	"utxo-cohort-lab/internal/storage/sqlite"
)

func TestOpen_Memory(t *testing.T) {
	cfg := config.Default()
	s, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok := s.Columns.(*memory.ColumnStore); !ok {
		t.Errorf("columns = %T, want *memory.ColumnStore", s.Columns)
	}
	if _, ok := s.Checkpoints.(*memory.CheckpointStore); !ok {
		t.Errorf("checkpoints = %T, want *memory.CheckpointStore", s.Checkpoints)
	}
}

func TestOpen_SqliteSharesDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendSqlite
	cfg.Store.SqlitePath = filepath.Join(t.TempDir(), "cohorts.db")
	cfg.Checkpoint.Backend = config.BackendSqlite

	s, err := Open(ctx, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok := s.Columns.(*sqlite.ColumnStore); !ok {
		t.Errorf("columns = %T, want *sqlite.ColumnStore", s.Columns)
	}
	if len(s.dbs) != 1 {
		t.Errorf("opened %d databases, want 1", len(s.dbs))
	}

	if err := s.Columns.Reset(ctx, "all.supply", 1, 8); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := s.Checkpoints.Save(ctx, &storage.Checkpoint{Height: 3, Version: 1, Payload: []byte("{}")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cp, err := s.Checkpoints.Latest(ctx, 10, 1)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if cp.Height != 3 {
		t.Errorf("checkpoint height = %d, want 3", cp.Height)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "cassandra"
	if _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg = config.Default()
	cfg.Checkpoint.Backend = config.BackendClickhouse
	if _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for clickhouse checkpoints")
	}
}
