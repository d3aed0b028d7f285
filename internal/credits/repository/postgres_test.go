package repository

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"medilink/internal/credits/domain"
	"medilink/internal/db"
	"medilink/internal/db/migrate"
)

func openTestDB(t *testing.T) (*PostgresRepository, *sql.DB) {
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
	return NewPostgresRepository(conn), conn
}

func newOrg(t *testing.T, conn *sql.DB) string {
	t.Helper()
	id := uuid.NewString()
	_, err := conn.Exec(`INSERT INTO organizations (id, name, type, status, contact_email, created_at)
		VALUES ($1, 'Credits Test', 'hospital', 'active', '', now())`, id)
	if err != nil {
		t.Fatalf("insert org: %v", err)
	}
	return id
}

func TestPostgresRepository_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	repo, conn := openTestDB(t)
	ctx := context.Background()
	org := newOrg(t, conn)
	now := time.Now().UTC()

	if err := repo.OpenAccount(ctx, org, now); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if err := repo.OpenAccount(ctx, org, now); err != nil {
		t.Fatalf("OpenAccount twice: %v", err)
	}
	if _, ok, err := repo.Credit(ctx, org, 50, domain.ReasonGrant, now); err != nil || !ok {
		t.Fatalf("Credit = %v, %v", ok, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.Debit(ctx, org, 5, time.Now().UTC())
			if err != nil {
				t.Errorf("Debit: %v", err)
				return
			}
			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("succeeded debits = %d, want 10", succeeded)
	}
	a, err := repo.GetAccount(ctx, org)
	if err != nil || a == nil {
		t.Fatalf("GetAccount = %+v, %v", a, err)
	}
	if a.Balance != 0 || a.LifetimeGranted != 50 || a.LifetimeConsumed != 50 {
		t.Errorf("account = %+v", a)
	}
}

func TestPostgresRepository_Ledger(t *testing.T) {
	repo, conn := openTestDB(t)
	ctx := context.Background()
	org := newOrg(t, conn)
	now := time.Now().UTC()
	if err := repo.OpenAccount(ctx, org, now); err != nil {
		t.Fatal(err)
	}

	for i, ref := range []string{"a", "b", "c"} {
		tx := &domain.Transaction{ID: uuid.NewString(), OrgID: org, Delta: int64(i + 1), Reason: domain.ReasonGrant,
			Reference: ref, BalanceAfter: int64(i + 1), CreatedAt: now}
		if err := repo.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("InsertTransaction: %v", err)
		}
	}
	dup := &domain.Transaction{ID: uuid.NewString(), OrgID: org, Delta: 1, Reason: domain.ReasonGrant, Reference: "a", CreatedAt: now}
	if err := repo.InsertTransaction(ctx, dup); !db.IsUniqueViolation(err) {
		t.Errorf("duplicate reference err = %v, want unique violation", err)
	}

	got, err := repo.GetTransactionByReference(ctx, org, domain.ReasonGrant, "b")
	if err != nil || got == nil || got.Delta != 2 {
		t.Fatalf("GetTransactionByReference = %+v, %v", got, err)
	}
	page, err := repo.ListTransactions(ctx, org, 0, 2)
	if err != nil || len(page) != 2 || page[0].Reference != "c" {
		t.Fatalf("first page = %+v, %v", page, err)
	}
	rest, err := repo.ListTransactions(ctx, org, page[1].Seq, 2)
	if err != nil || len(rest) != 1 || rest[0].Reference != "a" {
		t.Fatalf("second page = %+v, %v", rest, err)
	}
}
