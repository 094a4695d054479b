package keystoredb

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestKeystore(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "keystore.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cur, tgt, err := db.Version()
	if err != nil {
		t.Fatal(err)
	}
	if cur != 0 {
		t.Fatalf("current version = %d, want 0", cur)
	}
	if err := db.MigrateUp(context.Background(), tgt); err != nil {
		t.Fatal(err)
	}

	serverID := []byte("abc")

	if key, err := db.Get(serverID); err != nil || key != nil {
		t.Fatalf("Get before Set = %v, %v; want nil, nil", key, err)
	}

	key := []byte("0123456789abcdef0123456789abcdef")
	if err := db.Set(serverID, key); err != nil {
		t.Fatal(err)
	}

	got, err := db.Get(serverID)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(key) {
		t.Fatalf("Get = %q, want %q", got, key)
	}

	if err := db.Delete(serverID); err != nil {
		t.Fatal(err)
	}
	if key, err := db.Get(serverID); err != nil || key != nil {
		t.Fatalf("Get after Delete = %v, %v; want nil, nil", key, err)
	}
}
