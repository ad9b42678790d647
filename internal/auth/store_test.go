package auth

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestStore_RoundTrip(t *testing.T) {
	st := NewStore(t.TempDir(), "alice@example.com")

	empty, err := st.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if empty != nil {
		t.Fatal("expected nil credentials before first save")
	}

	if err := st.Save(&Credentials{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		UserID:       "u-1",
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := st.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.Account != "alice@example.com" {
		t.Errorf("account not stamped: %q", got.Account)
	}
}

func TestStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}

	dir := t.TempDir()
	st := NewStore(dir, "alice@example.com")
	if err := st.Save(&Credentials{AccessToken: "secret"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 credential file, got %d", len(entries))
	}

	info, err := os.Stat(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credential file must be 0600, got %o", perm)
	}
}

func TestStore_Clear(t *testing.T) {
	st := NewStore(t.TempDir(), "alice@example.com")
	if err := st.Save(&Credentials{AccessToken: "access-1"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := st.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, err := st.Load()
	if err != nil {
		t.Fatalf("Load after clear failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil credentials after clear")
	}

	// Clearing again is a no-op.
	if err := st.Clear(); err != nil {
		t.Errorf("second Clear must be a no-op, got %v", err)
	}
}

func TestStore_AccountSanitizedInFilename(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, "a/b@c.io")
	if err := st.Save(&Credentials{AccessToken: "x"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 file, got %d", len(entries))
	}
	if name := entries[0].Name(); name != "a_b_at_c.io.json" {
		t.Errorf("unexpected credential filename %q", name)
	}
}
