package migrations

import (
	"io/fs"
	"reflect"
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	input := `-- columns
CREATE TABLE a (x UInt64);

-- rows
CREATE TABLE b (
    y String
) ENGINE = MergeTree ORDER BY y;
`
	got := splitStatements(input)
	want := []string{
		"CREATE TABLE a (x UInt64)",
		"CREATE TABLE b (\n    y String\n) ENGINE = MergeTree ORDER BY y",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitStatements() = %q, want %q", got, want)
	}
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{"plain", "SELECT 1; SELECT 2;", false},
		{"string without semicolon", "SELECT 'a b';", false},
		{"escaped quote", "SELECT 'it''s';", false},
		{"semicolon in string", "SELECT 'a;b';", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateNoSemicolonInStrings(tt.sql)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateNoSemicolonInStrings(%q) error = %v, wantErr %v", tt.sql, err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://localhost:9000/cohorts?dial_timeout=5s")
	if err != nil {
		t.Fatalf("databaseFromDSN: %v", err)
	}
	if db != "cohorts" {
		t.Errorf("database = %q, want cohorts", db)
	}
	if _, err := databaseFromDSN("clickhouse://localhost:9000"); err == nil {
		t.Error("expected error for dsn without database")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, tc := range []struct {
		fsys fs.FS
		dir  string
	}{
		{PostgresFS, "postgres"},
		{ClickhouseFS, "clickhouse"},
		{SqliteFS, "sqlite"},
	} {
		files, err := sqlFiles(tc.fsys, tc.dir)
		if err != nil {
			t.Fatalf("%s: %v", tc.dir, err)
		}
		if len(files) == 0 {
			t.Errorf("%s: no migrations embedded", tc.dir)
		}
		for _, f := range files {
			data, err := fs.ReadFile(tc.fsys, tc.dir+"/"+f)
			if err != nil {
				t.Fatalf("%s/%s: %v", tc.dir, f, err)
			}
			if !strings.Contains(string(data), "CREATE TABLE") {
				t.Errorf("%s/%s creates no table", tc.dir, f)
			}
			if err := validateNoSemicolonInStrings(string(data)); err != nil {
				t.Errorf("%s/%s: %v", tc.dir, f, err)
			}
		}
	}
}
