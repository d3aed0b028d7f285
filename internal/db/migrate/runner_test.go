package migrate

import (
	"io/fs"
	"os"
	"sort"
	"strings"
	"testing"

	"medilink/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	for _, dsn := range []string{"", "   "} {
		err := Run(dsn, Up)
		if err == nil {
			t.Fatalf("Run(%q) should return error", dsn)
		}
		if !strings.Contains(err.Error(), "DATABASE_URL is not set") {
			t.Errorf("error = %q, should mention DATABASE_URL", err.Error())
		}
	}
}

func TestParseDirection(t *testing.T) {
	for _, s := range []string{"up", "down"} {
		if _, err := ParseDirection(s); err != nil {
			t.Errorf("ParseDirection(%q): %v", s, err)
		}
	}
	for _, s := range []string{"", "UP", "Up", "sideways"} {
		if _, err := ParseDirection(s); err == nil {
			t.Errorf("ParseDirection(%q) should fail", s)
		}
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	if err := Run("postgres://localhost/test", Direction("left")); err == nil {
		t.Fatal("Run with invalid direction should return error")
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	for _, dsn := range []string{"invalid-dsn", "://localhost/test", "postgres://localhost with spaces/test"} {
		if err := Run(dsn, Up); err == nil {
			t.Errorf("Run with invalid DSN %q should return error", dsn)
		}
	}
}

func TestMigrationFiles_ArePaired(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file %q", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	var missing []string
	for k := range ups {
		if !downs[k] {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		t.Errorf("migrations without down file: %v", missing)
	}
}

func TestRun_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	if err := Run(dsn, Up); err != nil {
		t.Fatalf("Run up: %v", err)
	}
	v, dirty, err := Version(dsn)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v == 0 || dirty {
		t.Errorf("Version = %d dirty=%v, want applied clean schema", v, dirty)
	}
}
