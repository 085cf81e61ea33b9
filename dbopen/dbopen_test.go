package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func TestOpenMemory_PragmasApplied(t *testing.T) {
	// WHAT: OpenMemory returns a usable database with foreign keys on.
	// WHY: Every store in the repository assumes these pragmas.
	db := OpenMemory(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys: got %d, want 1", fk)
	}
}

func TestOpen_WithSchema(t *testing.T) {
	// WHAT: Inline schema runs after pragmas.
	// WHY: Callers open + migrate in one call.
	db := OpenMemory(t, WithSchema(`CREATE TABLE things (id TEXT PRIMARY KEY)`))

	if _, err := db.Exec(`INSERT INTO things (id) VALUES ('a')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM things`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count: got %d", n)
	}
}

func TestOpen_BadSchemaClosesDB(t *testing.T) {
	// WHAT: A broken schema statement fails Open.
	// WHY: Partial initialization must not leak a half-migrated handle.
	_, err := Open(":memory:", WithSchema(`CREATE BOGUS`))
	if err == nil {
		t.Fatal("expected error from invalid schema")
	}
}

func TestIsBusy(t *testing.T) {
	// WHAT: IsBusy matches the SQLite lock error strings and nothing else.
	// WHY: RunTx must only retry genuinely retryable errors.
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("SQLITE_BUSY: yadda"), true},
		{errors.New("database table is locked"), true},
		{errors.New("no such table: stores"), false},
	}
	for _, c := range cases {
		if got := IsBusy(c.err); got != c.want {
			t.Errorf("IsBusy(%v): got %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRunTx_CommitsAndRollsBack(t *testing.T) {
	// WHAT: RunTx commits on nil and rolls back on error.
	// WHY: Upsert batches rely on all-or-nothing semantics.
	db := OpenMemory(t, WithSchema(`CREATE TABLE things (id TEXT PRIMARY KEY)`))
	ctx := context.Background()

	if err := RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO things (id) VALUES ('keep')`)
		return err
	}); err != nil {
		t.Fatalf("commit tx: %v", err)
	}

	wantErr := errors.New("boom")
	err := RunTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO things (id) VALUES ('drop')`); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected boom, got: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM things`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("rows after rollback: got %d, want 1", n)
	}
}
