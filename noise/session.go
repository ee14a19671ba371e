package noise

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
)

// ErrDecrypt indicates a frame that failed authentication.
var ErrDecrypt = errors.New("frame authentication failed")

// Session holds the transport cipher states of one side of a link. Nonces
// advance on every call, so frames must be opened in the order they were
// sealed.
type Session struct {
	mu   sync.Mutex
	send *noise.CipherState
	recv *noise.CipherState
}

// Seal encrypts one frame.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return out, nil
}

// Open decrypts one frame.
func (s *Session) Open(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return out, nil
}
