package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"medilink/internal/audit/domain"
	"medilink/internal/audit/query"
	"medilink/internal/db"
	"medilink/internal/db/migrate"
)

func openTestDB(t *testing.T) *PostgresRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	if err := migrate.Run(dsn, migrate.Up); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewPostgresRepository(conn)
}

func TestPostgresRepository_AppendAndPage(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()
	org := "org-" + uuid.NewString()

	for i := 0; i < 3; i++ {
		a := &domain.AuditLog{
			ID: uuid.NewString(), OrgID: org, Action: "create", Resource: "equipment",
			IP: "127.0.0.1", Metadata: `{"n":1}`, CreatedAt: time.Now().UTC(),
		}
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if a.Seq == 0 {
			t.Fatal("Create should assign seq")
		}
	}

	where := query.Condition{Clause: "org_id = ?", Params: []any{org}}
	page, err := repo.List(ctx, where, query.Order{Desc: true}, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 2 || page[0].Seq < page[1].Seq {
		t.Fatalf("first page = %d entries, want 2 newest first", len(page))
	}
	next := query.And(where, query.NewCursor(page[1].Seq, query.Order{Desc: true}, "").WithCreatedAt(page[1].CreatedAt).Condition())
	rest, err := repo.List(ctx, next, query.Order{Desc: true}, 2)
	if err != nil {
		t.Fatalf("List next: %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("second page = %d entries, want 1", len(rest))
	}

	got, err := repo.GetByID(ctx, page[0].ID)
	if err != nil || got == nil || got.Metadata == "" {
		t.Errorf("GetByID = %+v, %v", got, err)
	}
}

func TestPostgresRepository_RejectsUpdates(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()
	a := &domain.AuditLog{ID: uuid.NewString(), OrgID: "_system", Action: "login", Resource: "session", CreatedAt: time.Now().UTC()}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.db.ExecContext(ctx, `UPDATE audit_logs SET action = 'x' WHERE id = $1`, a.ID); err == nil {
		t.Error("UPDATE on audit_logs should be rejected")
	}
	if _, err := repo.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE id = $1`, a.ID); err == nil {
		t.Error("DELETE on audit_logs should be rejected")
	}
}
