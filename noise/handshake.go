package noise

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"

	"github.com/opd-ai/ztsock/crypto"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
	// ErrWrongRole indicates a call that the handshake role does not allow
	ErrWrongRole = errors.New("operation not valid for handshake role")
)

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator starts the handshake (knows peer's static key)
	Initiator HandshakeRole = iota
	// Responder responds to handshake initiation
	Responder
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// IKHandshake runs the Noise IK pattern between two nodes. The initiator
// knows the responder's static key from its node identity.
//
//	-> e, es, s, ss
//	<- e, ee, se
type IKHandshake struct {
	role       HandshakeRole
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
	sentFirst  bool
}

// NewIKHandshake creates a handshake for the local key pair. peerPubKey is
// required for the initiator and ignored for the responder.
func NewIKHandshake(local *crypto.KeyPair, peerPubKey []byte, role HandshakeRole) (*IKHandshake, error) {
	if local == nil {
		return nil, errors.New("local key pair required")
	}
	if role == Initiator && len(peerPubKey) != 32 {
		return nil, fmt.Errorf("initiator requires peer public key (32 bytes), got %d", len(peerPubKey))
	}

	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, local.Private[:])
	copy(staticKey.Public, local.Public[:])

	config := noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}
	if role == Initiator {
		config.PeerStatic = append([]byte(nil), peerPubKey...)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}
	return &IKHandshake{role: role, state: state}, nil
}

// Initiate returns the initiator's first message.
func (ik *IKHandshake) Initiate(payload []byte) ([]byte, error) {
	if ik.role != Initiator {
		return nil, ErrWrongRole
	}
	if ik.complete || ik.sentFirst {
		return nil, ErrHandshakeComplete
	}
	msg, _, _, err := ik.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("initiator write failed: %w", err)
	}
	ik.sentFirst = true
	return msg, nil
}

// Respond consumes the initiator's message and returns the reply along
// with the initiator's payload. The responder is complete afterwards.
func (ik *IKHandshake) Respond(message, payload []byte) (reply, peerPayload []byte, err error) {
	if ik.role != Responder {
		return nil, nil, ErrWrongRole
	}
	if ik.complete {
		return nil, nil, ErrHandshakeComplete
	}
	peerPayload, _, _, err = ik.state.ReadMessage(nil, message)
	if err != nil {
		return nil, nil, fmt.Errorf("responder read failed: %w", err)
	}
	reply, cs1, cs2, err := ik.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("responder write failed: %w", err)
	}
	// cs1 protects initiator to responder traffic.
	ik.recvCipher, ik.sendCipher = cs1, cs2
	ik.complete = true
	return reply, peerPayload, nil
}

// Finish consumes the responder's reply on the initiator side.
func (ik *IKHandshake) Finish(reply []byte) ([]byte, error) {
	if ik.role != Initiator {
		return nil, ErrWrongRole
	}
	if ik.complete {
		return nil, ErrHandshakeComplete
	}
	payload, cs1, cs2, err := ik.state.ReadMessage(nil, reply)
	if err != nil {
		return nil, fmt.Errorf("initiator read response failed: %w", err)
	}
	ik.sendCipher, ik.recvCipher = cs1, cs2
	ik.complete = true
	return payload, nil
}

// IsComplete returns true if handshake is finished and cipher states are available.
func (ik *IKHandshake) IsComplete() bool {
	return ik.complete
}

// Session returns the transport session once the handshake is complete.
func (ik *IKHandshake) Session() (*Session, error) {
	if !ik.complete {
		return nil, ErrHandshakeNotComplete
	}
	return &Session{send: ik.sendCipher, recv: ik.recvCipher}, nil
}

// RemoteStaticKey returns the peer's static public key after completion.
func (ik *IKHandshake) RemoteStaticKey() ([]byte, error) {
	if !ik.complete {
		return nil, ErrHandshakeNotComplete
	}
	remote := ik.state.PeerStatic()
	if len(remote) == 0 {
		return nil, errors.New("remote static key not available")
	}
	return append([]byte(nil), remote...), nil
}

// Establish runs a complete in-memory IK exchange and returns the
// initiator's and responder's sessions.
func Establish(initiator, responder *crypto.KeyPair) (*Session, *Session, error) {
	ini, err := NewIKHandshake(initiator, responder.Public[:], Initiator)
	if err != nil {
		return nil, nil, err
	}
	res, err := NewIKHandshake(responder, nil, Responder)
	if err != nil {
		return nil, nil, err
	}

	msg, err := ini.Initiate(nil)
	if err != nil {
		return nil, nil, err
	}
	reply, _, err := res.Respond(msg, nil)
	if err != nil {
		return nil, nil, err
	}
	if _, err := ini.Finish(reply); err != nil {
		return nil, nil, err
	}

	iniSession, err := ini.Session()
	if err != nil {
		return nil, nil, err
	}
	resSession, err := res.Session()
	if err != nil {
		return nil, nil, err
	}
	return iniSession, resSession, nil
}
