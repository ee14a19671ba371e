package engine

// ProtoStats counts frames for one protocol layer.
type ProtoStats struct {
	Xmit uint64
	Recv uint64
	Drop uint64
}

// Stats is a snapshot of the engine's protocol counters.
type Stats struct {
	Link ProtoStats
	TCP  ProtoStats
	UDP  ProtoStats
}
