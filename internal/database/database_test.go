package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/watzon/conduit/internal/config"
)

func testConfig(t *testing.T) *config.StoreConfig {
	t.Helper()
	return &config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "conduit.db"),
		BusyTimeout: time.Second,
		WALMode:     true,
	}
}

func insertManifest(t *testing.T, db *DB, id string) error {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO manifests (id, pipeline, contract_id, status, node, started_at, sealed_at, payload)
		VALUES (?, 'orders', 'c-1', 'success', 'node-a', ?, ?, ?)
	`, id, Now(), Now(), []byte("{}"))
	return err
}

func TestOpenCreatesSchema(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if err := insertManifest(t, db, "m-1"); err != nil {
		t.Fatalf("inserting into migrated schema: %v", err)
	}

	var count int
	err = db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM manifests`).Scan(&count)
	if err != nil || count != 1 {
		t.Fatalf("count = %d, err = %v", count, err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	cfg := testConfig(t)

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	if err := insertManifest(t, db, "m-1"); err != nil {
		t.Fatalf("insert error: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// Reopening must not re-run applied migrations or lose data.
	db, err = Open(cfg)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM manifests`).Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d after reopen, want 1", count)
	}
}

func TestClassifyUniqueViolation(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if err := insertManifest(t, db, "m-1"); err != nil {
		t.Fatalf("first insert error: %v", err)
	}

	err = ClassifyError(insertManifest(t, db, "m-1"))
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("ClassifyError() = %v, want ErrUniqueViolation", err)
	}
	if !IsUniqueError(err) {
		t.Fatal("IsUniqueError() = false for a unique violation")
	}

	var ce *ConstraintError
	if !errors.As(err, &ce) || ce.Table != "manifests" || ce.Column != "id" {
		t.Fatalf("ConstraintError = %+v", ce)
	}
}

func TestClassifyPassesOtherErrorsThrough(t *testing.T) {
	if ClassifyError(nil) != nil {
		t.Fatal("ClassifyError(nil) != nil")
	}

	plain := errors.New("disk full")
	if ClassifyError(plain) != plain {
		t.Fatal("ClassifyError rewrote an unrelated error")
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	boom := errors.New("boom")
	err = db.Transaction(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO manifests (id, pipeline, contract_id, status, node, started_at, sealed_at, payload)
			VALUES ('m-tx', 'orders', 'c-1', 'success', 'node-a', '', '', X'')
		`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction() error = %v, want boom", err)
	}

	var count int
	if err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM manifests WHERE id = 'm-tx'`).Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	if count != 0 {
		t.Fatal("rolled-back insert is visible")
	}
}
