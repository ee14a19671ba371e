package sockaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRFC4193(t *testing.T) {
	addr := RFC4193(0x8056c2e21c000001, 0xefcc1b0947)
	assert.Equal(t, "fd80:56c2:e21c:0:199:93ef:cc1b:947", addr.String())
}

func TestSixPlane(t *testing.T) {
	addr := SixPlane(0x8056c2e21c000001, 0xefcc1b0947)
	// 0x8056c2e2 ^ 0x1c000001 = 0x9c56c2e3
	assert.Equal(t, "fc9c:56c2:e3ef:cc1b:947::1", addr.String())
}
