package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/custody?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := NewMySQLAdapter(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema setup failed: %v", err)
	}
	return db
}

func newSubmission(hash string) domain.Submission {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.Submission{
		ID:           uuid.NewString(),
		TxHash:       hash,
		Account:      "0x00000000000000000000000000000000000000a1",
		Sequence:     7,
		Kind:         domain.MutationTransfer,
		ProductID:    "ANT101",
		SerialNumber: "SER001",
		Status:       domain.SubmissionPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestRecordAndGet(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	sub := newSubmission("0xtest-record-" + uuid.NewString()[:8])
	defer db.ExecContext(ctx, `DELETE FROM submissions WHERE tx_hash = ?`, sub.TxHash)

	if err := adapter.Record(ctx, sub); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := adapter.Get(ctx, sub.TxHash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected submission, got nil")
	}
	if got.Account != sub.Account || got.Sequence != sub.Sequence || got.Kind != sub.Kind {
		t.Errorf("unexpected submission: %+v", got)
	}
	if got.Status != domain.SubmissionPending {
		t.Errorf("expected status pending, got %s", got.Status)
	}

	if err := adapter.Record(ctx, sub); !errors.Is(err, ErrDuplicateSubmission) {
		t.Errorf("expected ErrDuplicateSubmission, got: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	got, err := NewMySQLAdapter(db).Get(context.Background(), "0xnonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for unknown hash")
	}
}

func TestResolve_OnlyOnce(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	sub := newSubmission("0xtest-resolve-" + uuid.NewString()[:8])
	defer db.ExecContext(ctx, `DELETE FROM submissions WHERE tx_hash = ?`, sub.TxHash)
	if err := adapter.Record(ctx, sub); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := adapter.MarkUnknown(ctx, sub.TxHash); err != nil {
		t.Fatalf("MarkUnknown failed: %v", err)
	}

	ok, err := adapter.Resolve(ctx, sub.TxHash, domain.SubmissionConfirmed, 42)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !ok {
		t.Error("expected unknown entry to resolve")
	}

	// A resolved entry stays resolved.
	ok, err = adapter.Resolve(ctx, sub.TxHash, domain.SubmissionRejected, 43)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ok {
		t.Error("expected second resolve to be a no-op")
	}

	got, _ := adapter.Get(ctx, sub.TxHash)
	if got.Status != domain.SubmissionConfirmed || got.BlockNumber != 42 {
		t.Errorf("expected confirmed in block 42, got %s in %d", got.Status, got.BlockNumber)
	}
}

func TestListUnresolved(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	db.ExecContext(ctx, `DELETE FROM submissions WHERE tx_hash LIKE '0xtest-list-%'`)

	pending := newSubmission("0xtest-list-pending")
	resolved := newSubmission("0xtest-list-resolved")
	resolved.ID = uuid.NewString()
	for _, sub := range []domain.Submission{pending, resolved} {
		if err := adapter.Record(ctx, sub); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	defer db.ExecContext(ctx, `DELETE FROM submissions WHERE tx_hash LIKE '0xtest-list-%'`)
	adapter.Resolve(ctx, resolved.TxHash, domain.SubmissionConfirmed, 1)

	subs, err := adapter.ListUnresolved(ctx, 1000)
	if err != nil {
		t.Fatalf("ListUnresolved failed: %v", err)
	}

	var sawPending, sawResolved bool
	for _, sub := range subs {
		switch sub.TxHash {
		case pending.TxHash:
			sawPending = true
		case resolved.TxHash:
			sawResolved = true
		}
	}
	if !sawPending {
		t.Error("pending submission missing from unresolved list")
	}
	if sawResolved {
		t.Error("resolved submission listed as unresolved")
	}
}
