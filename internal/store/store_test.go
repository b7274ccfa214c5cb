package store

import (
	"os"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already migrated; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + sync_state)", result.Version)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	db := testDB(t)

	token, err := db.LoadCredential()
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		t.Fatalf("fresh db token = %q, want empty", token)
	}

	if err := db.SaveCredential("tok-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCredential("tok-2"); err != nil {
		t.Fatal(err)
	}
	token, err = db.LoadCredential()
	if err != nil {
		t.Fatal(err)
	}
	if token != "tok-2" {
		t.Errorf("token = %q, want tok-2 (single row, last write wins)", token)
	}

	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM credential`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("credential rows = %d, want 1", rows)
	}

	if err := db.DeleteCredential(); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteCredential(); err != nil {
		t.Errorf("second DeleteCredential() error = %v", err)
	}
	token, _ = db.LoadCredential()
	if token != "" {
		t.Errorf("token after delete = %q, want empty", token)
	}
}

func TestCredentialSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCredential("persisted"); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	token, err := db.LoadCredential()
	if err != nil {
		t.Fatal(err)
	}
	if token != "persisted" {
		t.Errorf("token = %q, want persisted", token)
	}
}

func TestSyncState(t *testing.T) {
	db := testDB(t)

	if v, err := db.GetState(StateLastContact); err != nil || v != "" {
		t.Fatalf("GetState(missing) = %q, %v; want empty, nil", v, err)
	}
	if err := db.SetState(StateLastContact, "u2"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState(StateLastContact, "u3"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetState(StateLastContact); v != "u3" {
		t.Errorf("GetState() = %q, want u3", v)
	}
	if err := db.ClearState(); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetState(StateLastContact); v != "" {
		t.Errorf("GetState() after clear = %q, want empty", v)
	}
}

func TestOpenKeepsFileOwnerOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.db")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	// A file left behind with loose permissions is tightened on open.
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("db mode = %o, want 600", perm)
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "relay.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = db.Close()
}
