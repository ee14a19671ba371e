package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// IdentitySecretFile holds the full identity including the private key
	IdentitySecretFile = "identity.secret"
	// IdentityPublicFile holds the public identity
	IdentityPublicFile = "identity.public"
)

// ErrInvalidIdentity indicates an identity file that cannot be parsed.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is a node's key pair together with its derived address.
type Identity struct {
	NodeID uint64
	Keys   *KeyPair
}

// NewIdentity generates a fresh identity.
func NewIdentity() (*Identity, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Identity{NodeID: kp.NodeID(), Keys: kp}, nil
}

// String returns the public form "<node id>:0:<public key>".
func (id *Identity) String() string {
	return fmt.Sprintf("%010x:0:%s", id.NodeID, hex.EncodeToString(id.Keys.Public[:]))
}

func (id *Identity) secretString() string {
	return id.String() + ":" + hex.EncodeToString(id.Keys.Private[:])
}

// ParseIdentity parses the secret form written by IdentityStore.
func ParseIdentity(s string) (*Identity, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 4 || parts[1] != "0" {
		return nil, fmt.Errorf("%w: expected 4 fields", ErrInvalidIdentity)
	}
	nodeID, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil || nodeID > NodeIDMask {
		return nil, fmt.Errorf("%w: bad node id %q", ErrInvalidIdentity, parts[0])
	}
	priv, err := hex.DecodeString(parts[3])
	if err != nil || len(priv) != 32 {
		return nil, fmt.Errorf("%w: bad private key", ErrInvalidIdentity)
	}

	var secret [32]byte
	copy(secret[:], priv)
	ZeroBytes(priv)
	kp, err := FromSecretKey(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if hex.EncodeToString(kp.Public[:]) != parts[2] || kp.NodeID() != nodeID {
		return nil, fmt.Errorf("%w: key does not match address", ErrInvalidIdentity)
	}
	return &Identity{NodeID: nodeID, Keys: kp}, nil
}

// IdentityStore persists an identity in a node's storage directory.
type IdentityStore struct {
	dataDir string
}

// NewIdentityStore creates the directory if needed and checks that it is
// writable.
func NewIdentityStore(dataDir string) (*IdentityStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	probe, err := os.CreateTemp(dataDir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("data directory not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return &IdentityStore{dataDir: dataDir}, nil
}

// Dir returns the storage directory.
func (s *IdentityStore) Dir() string {
	return s.dataDir
}

// LoadOrCreate loads the stored identity or generates and saves a new one.
func (s *IdentityStore) LoadOrCreate() (*Identity, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, IdentitySecretFile))
	if err == nil {
		defer ZeroBytes(data)
		return ParseIdentity(string(data))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}

	id, err := NewIdentity()
	if err != nil {
		return nil, err
	}
	if err := s.Save(id); err != nil {
		return nil, err
	}
	return id, nil
}

// Save writes both identity files atomically.
func (s *IdentityStore) Save(id *Identity) error {
	if err := s.writeAtomic(IdentitySecretFile, []byte(id.secretString()+"\n"), 0o600); err != nil {
		return err
	}
	return s.writeAtomic(IdentityPublicFile, []byte(id.String()+"\n"), 0o644)
}

// writeAtomic uses a temporary file and rename so readers never observe a
// partial identity.
func (s *IdentityStore) writeAtomic(filename string, data []byte, perm os.FileMode) error {
	tmpFile := filepath.Join(s.dataDir, filename+".tmp")
	finalFile := filepath.Join(s.dataDir, filename)

	if err := os.WriteFile(tmpFile, data, perm); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpFile, finalFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
