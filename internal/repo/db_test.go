package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-txsim/internal/domain"
)

func TestOpen_UnsupportedDriver(t *testing.T) {
	db, err := Open("mysql", "x")
	if err == nil || db != nil {
		t.Fatalf("expected error for unsupported driver, got db=%v err=%v", db, err)
	}
	if !strings.Contains(err.Error(), "unsupported db driver") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenPostgres_EmptyDSN(t *testing.T) {
	db, err := Open(DriverPostgres, "   ")
	if err == nil || db != nil {
		t.Fatalf("expected error for empty dsn, got db=%v err=%v", db, err)
	}
}

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "txsim.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}

	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpen_DefaultDriverIsSQLite_PragmasPoolAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txsim.db")

	db, err := Open("", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var (
		journalMode string
		syncVal     int
		fkOn        int
		busyMS      int
	)
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if err := db.Raw("PRAGMA synchronous;").Row().Scan(&syncVal); err != nil {
		t.Fatalf("PRAGMA synchronous: %v", err)
	}
	if syncVal != 1 {
		t.Fatalf("expected synchronous=1 (NORMAL), got %d", syncVal)
	}
	if err := db.Raw("PRAGMA foreign_keys;").Row().Scan(&fkOn); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fkOn != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", fkOn)
	}
	if err := db.Raw("PRAGMA busy_timeout;").Row().Scan(&busyMS); err != nil {
		t.Fatalf("PRAGMA busy_timeout: %v", err)
	}
	if busyMS != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d", busyMS)
	}

	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{
		&domain.TransactionRecord{}, &domain.TokenBalance{}, &domain.TokenTransfer{},
		&domain.TokenClaim{}, &domain.Petition{}, &domain.PetitionVote{}, &domain.Idempotency{},
	} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&domain.PetitionVote{}, "ux_vote_petition_voter") {
		t.Fatalf("expected unique vote index")
	}

	now := time.Now().UTC()
	rec := &domain.TransactionRecord{
		ID: "tx1", Sender: "alice", Action: domain.ActionTokenClaim,
		Payload: "{}", Metadata: "{}", Timestamp: now.Format(time.RFC3339),
		Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert transaction: %v", err)
	}

	// The status check constraint rejects unknown states.
	bad := *rec
	bad.ID = "tx2"
	bad.Status = "exploded"
	if err := db.Create(&bad).Error; err == nil {
		t.Fatalf("expected check constraint violation for unknown status")
	}
}

// Compile-time guard to ensure signature stability.
var _ func(string, string) (*gorm.DB, error) = Open
