package ztsock

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCollector(t *testing.T) {
	f := newTestFabric(t)
	n := newTestNode(t, f, nil)
	require.NoError(t, n.Start())

	c := NewStatsCollector(n)
	assert.Equal(t, 9, testutil.CollectAndCount(c))

	want := `
# HELP ztsock_packets_dropped_total Frames dropped by the engine.
# TYPE ztsock_packets_dropped_total counter
ztsock_packets_dropped_total{proto="link"} 0
ztsock_packets_dropped_total{proto="tcp"} 0
ztsock_packets_dropped_total{proto="udp"} 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(want), "ztsock_packets_dropped_total"))
}
