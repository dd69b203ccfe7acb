package session

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecgard/quotedesk/internal/secret"
)

func testSealer(t *testing.T) *secret.Sealer {
	t.Helper()
	s, err := secret.NewSealer(hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestFileKeyStoreRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	ks := NewFileKeyStore(path, testSealer(t))

	if _, ok, err := ks.Get(CurrentOrganizationKey); ok || err != nil {
		t.Fatalf("Get on missing file = %v, %v", ok, err)
	}
	if err := ks.Set(CurrentOrganizationKey, "org-42"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading state file: %v", err)
	}
	if strings.Contains(string(raw), "org-42") {
		t.Error("value stored in the clear")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	reopened := NewFileKeyStore(path, testSealer(t))
	v, ok, err := reopened.Get(CurrentOrganizationKey)
	if err != nil || !ok || v != "org-42" {
		t.Errorf("Get after reopen = %q, %v, %v", v, ok, err)
	}

	if err := reopened.Delete(CurrentOrganizationKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := reopened.Delete(CurrentOrganizationKey); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, ok, _ := reopened.Get(CurrentOrganizationKey); ok {
		t.Error("value survived Delete")
	}
}

func TestFileKeyStoreWithoutKeyCannotReadSealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := NewFileKeyStore(path, testSealer(t)).Set("sessionToken", "tok"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, _, err := NewFileKeyStore(path, nil).Get("sessionToken"); err == nil {
		t.Error("expected error reading sealed value without key")
	}
}

func TestFileKeyStorePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	ks := NewFileKeyStore(path, nil)
	if err := ks.Set("a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := ks.Set("b", "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for k, want := range map[string]string{"a": "1", "b": "2"} {
		if v, _, _ := ks.Get(k); v != want {
			t.Errorf("Get(%s) = %q, want %q", k, v, want)
		}
	}
}

func TestFileKeyStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("values: [not, a, map"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewFileKeyStore(path, nil).Get("a"); err == nil {
		t.Error("expected parse error")
	}
}

func TestMemoryKeyStore(t *testing.T) {
	ks := NewMemoryKeyStore()
	ks.Set("k", "v")
	if v, ok, _ := ks.Get("k"); !ok || v != "v" {
		t.Errorf("Get = %q, %v", v, ok)
	}
	ks.Delete("k")
	if _, ok, _ := ks.Get("k"); ok {
		t.Error("value survived Delete")
	}
}
