package noise

import (
	"bytes"
	"errors"
	"testing"

	"github.com/opd-ai/ztsock/crypto"
)

func mustKeys(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	return kp
}

// Test basic handshake creation
func TestNewIKHandshake(t *testing.T) {
	local, peer := mustKeys(t), mustKeys(t)

	initiator, err := NewIKHandshake(local, peer.Public[:], Initiator)
	if err != nil {
		t.Fatalf("Failed to create initiator: %v", err)
	}
	if initiator.IsComplete() {
		t.Error("Handshake should not be complete initially")
	}

	responder, err := NewIKHandshake(peer, nil, Responder)
	if err != nil {
		t.Fatalf("Failed to create responder: %v", err)
	}
	if responder.IsComplete() {
		t.Error("Handshake should not be complete initially")
	}
}

// Test input validation
func TestNewIKHandshakeValidation(t *testing.T) {
	local := mustKeys(t)

	if _, err := NewIKHandshake(nil, nil, Responder); err == nil {
		t.Error("expected error for nil key pair")
	}
	if _, err := NewIKHandshake(local, nil, Initiator); err == nil {
		t.Error("expected error for initiator without peer key")
	}
	if _, err := NewIKHandshake(local, make([]byte, 16), Initiator); err == nil {
		t.Error("expected error for short peer key")
	}
}

func TestIKHandshakeFlow(t *testing.T) {
	local, peer := mustKeys(t), mustKeys(t)

	ini, err := NewIKHandshake(local, peer.Public[:], Initiator)
	if err != nil {
		t.Fatal(err)
	}
	res, err := NewIKHandshake(peer, nil, Responder)
	if err != nil {
		t.Fatal(err)
	}

	msg, err := ini.Initiate([]byte("hello"))
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if _, err := ini.Session(); !errors.Is(err, ErrHandshakeNotComplete) {
		t.Errorf("expected ErrHandshakeNotComplete, got %v", err)
	}

	reply, got, err := res.Respond(msg, []byte("welcome"))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("responder payload = %q", got)
	}

	payload, err := ini.Finish(reply)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if string(payload) != "welcome" {
		t.Errorf("initiator payload = %q", payload)
	}

	remote, err := res.RemoteStaticKey()
	if err != nil {
		t.Fatalf("RemoteStaticKey failed: %v", err)
	}
	if !bytes.Equal(remote, local.Public[:]) {
		t.Error("responder learned the wrong static key")
	}

	if _, err := ini.Finish(reply); !errors.Is(err, ErrHandshakeComplete) {
		t.Errorf("expected ErrHandshakeComplete, got %v", err)
	}
	if _, err := res.Initiate(nil); !errors.Is(err, ErrWrongRole) {
		t.Errorf("expected ErrWrongRole, got %v", err)
	}
}

func TestEstablishSessionsInterop(t *testing.T) {
	a, b := mustKeys(t), mustKeys(t)

	sa, sb, err := Establish(a, b)
	if err != nil {
		t.Fatalf("Establish failed: %v", err)
	}

	for i, msg := range [][]byte{[]byte("first"), {}, bytes.Repeat([]byte{0xab}, 2800)} {
		frame, err := sa.Seal(msg)
		if err != nil {
			t.Fatalf("Seal %d failed: %v", i, err)
		}
		out, err := sb.Open(frame)
		if err != nil {
			t.Fatalf("Open %d failed: %v", i, err)
		}
		if !bytes.Equal(out, msg) {
			t.Errorf("frame %d mismatch", i)
		}
	}

	frame, err := sb.Seal([]byte("reply"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := sa.Open(frame)
	if err != nil {
		t.Fatalf("reverse Open failed: %v", err)
	}
	if string(out) != "reply" {
		t.Errorf("reverse payload = %q", out)
	}
}

func TestSessionRejectsTamperedFrame(t *testing.T) {
	sa, sb, err := Establish(mustKeys(t), mustKeys(t))
	if err != nil {
		t.Fatal(err)
	}
	frame, err := sa.Seal([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	frame[0] ^= 0xff
	if _, err := sb.Open(frame); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}
}
