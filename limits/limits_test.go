package limits

import (
	"errors"
	"testing"
)

// TestMaxDatagramSizeMatchesIPv4 verifies MaxDatagramSize is the IPv4 UDP
// payload limit
func TestMaxDatagramSizeMatchesIPv4(t *testing.T) {
	const ipHeader, udpHeader = 20, 8
	if MaxDatagramSize != 65535-ipHeader-udpHeader {
		t.Errorf("MaxDatagramSize = %d, want %d", MaxDatagramSize, 65535-ipHeader-udpHeader)
	}
}

func TestValidateDatagram(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"empty", 0, nil},
		{"one byte", 1, nil},
		{"at limit", MaxDatagramSize, nil},
		{"over limit", MaxDatagramSize + 1, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDatagram(make([]byte, tt.size))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDatagram(%d) = %v, want %v", tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestValidateConfigFile(t *testing.T) {
	if err := ValidateConfigFile(make([]byte, MaxConfigFile+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if err := ValidateConfigFile(nil); err != nil {
		t.Errorf("empty config should be valid, got %v", err)
	}
}

func TestClamps(t *testing.T) {
	if got := ClampReceiveBuffer(1); got != MinReceiveBuffer {
		t.Errorf("ClampReceiveBuffer(1) = %d", got)
	}
	if got := ClampReceiveBuffer(1 << 30); got != MaxReceiveBuffer {
		t.Errorf("ClampReceiveBuffer(1<<30) = %d", got)
	}
	if got := ClampReceiveBuffer(65536); got != 65536 {
		t.Errorf("ClampReceiveBuffer(65536) = %d", got)
	}
	if got := ClampBacklog(0); got != ListenBacklog {
		t.Errorf("ClampBacklog(0) = %d", got)
	}
	if got := ClampBacklog(5000); got != MaxBacklog {
		t.Errorf("ClampBacklog(5000) = %d", got)
	}
}
