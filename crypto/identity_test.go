package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIdentityStoreLoadOrCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "node")

	store, err := NewIdentityStore(dir)
	if err != nil {
		t.Fatalf("NewIdentityStore failed: %v", err)
	}

	first, err := store.LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, IdentitySecretFile))
	if err != nil {
		t.Fatalf("secret file missing: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secret file mode = %v, want 0600", info.Mode().Perm())
	}

	pub, err := os.ReadFile(filepath.Join(dir, IdentityPublicFile))
	if err != nil {
		t.Fatalf("public file missing: %v", err)
	}
	if strings.TrimSpace(string(pub)) != first.String() {
		t.Errorf("public file = %q, want %q", pub, first.String())
	}

	second, err := store.LoadOrCreate()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if second.NodeID != first.NodeID || second.Keys.Public != first.Keys.Public {
		t.Error("reloaded identity differs from stored identity")
	}
}

func TestParseIdentityRejectsTampering(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"public only", id.String()},
		{"wrong node id", "0000000001" + id.secretString()[10:]},
		{"bad hex", id.String() + ":zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseIdentity(tt.input)
			if !errors.Is(err, ErrInvalidIdentity) {
				t.Errorf("ParseIdentity(%q) = %v, want ErrInvalidIdentity", tt.name, err)
			}
		})
	}

	parsed, err := ParseIdentity(id.secretString())
	if err != nil {
		t.Fatalf("ParseIdentity failed: %v", err)
	}
	if parsed.NodeID != id.NodeID {
		t.Errorf("NodeID = %x, want %x", parsed.NodeID, id.NodeID)
	}
}

func TestNewIdentityStoreUnwritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	defer os.Chmod(dir, 0o700)

	if _, err := NewIdentityStore(filepath.Join(dir, "sub")); err == nil {
		t.Error("expected error for unwritable parent directory")
	}
}
