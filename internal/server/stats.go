package server

import "sync/atomic"

// stats tracks lightweight operational counters for diagnostics: no
// hit-rate approximation, since this store doesn't track reads against
// a fixed capacity the way an LRU cache would.
type stats struct {
	connections atomic.Uint64
	setOps      atomic.Uint64
	getOps      atomic.Uint64
	delOps      atomic.Uint64
	exinOps     atomic.Uint64
	timeouts    atomic.Uint64
	disconnects atomic.Uint64
}

// Snapshot is a point-in-time copy of the server's operation counters.
type Snapshot struct {
	Connections uint64
	SetOps      uint64
	GetOps      uint64
	DelOps      uint64
	ExinOps     uint64
	Timeouts    uint64
	Disconnects uint64
}

func (s *stats) snapshot() Snapshot {
	return Snapshot{
		Connections: s.connections.Load(),
		SetOps:      s.setOps.Load(),
		GetOps:      s.getOps.Load(),
		DelOps:      s.delOps.Load(),
		ExinOps:     s.exinOps.Load(),
		Timeouts:    s.timeouts.Load(),
		Disconnects: s.disconnects.Load(),
	}
}
