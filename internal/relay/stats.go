package relay

import (
	"sync/atomic"
	"time"
)

// Stats holds relay counters. All fields are updated atomically and may be
// read concurrently through Snapshot.
type Stats struct {
	batchesSent      atomic.Uint64
	batchesDropped   atomic.Uint64
	sessions         atomic.Uint64
	connectFailures  atomic.Uint64
	authFailures     atomic.Uint64
	commandsReceived atomic.Uint64
	commandsRejected atomic.Uint64
	commandsFailed   atomic.Uint64
	commandsApplied  atomic.Uint64
	lastConnected    atomic.Int64
	lastDisconnected atomic.Int64
	lastBatchSent    atomic.Int64
}

// StatsSnapshot is a copy of Stats at one instant.
type StatsSnapshot struct {
	BatchesSent      uint64     `json:"batches_sent"`
	BatchesDropped   uint64     `json:"batches_dropped"`
	Sessions         uint64     `json:"sessions"`
	ConnectFailures  uint64     `json:"connect_failures"`
	AuthFailures     uint64     `json:"auth_failures"`
	CommandsReceived uint64     `json:"commands_received"`
	CommandsRejected uint64     `json:"commands_rejected"`
	CommandsFailed   uint64     `json:"commands_failed"`
	CommandsApplied  uint64     `json:"commands_applied"`
	LastConnected    *time.Time `json:"last_connected,omitempty"`
	LastDisconnected *time.Time `json:"last_disconnected,omitempty"`
	LastBatchSent    *time.Time `json:"last_batch_sent,omitempty"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BatchesSent:      s.batchesSent.Load(),
		BatchesDropped:   s.batchesDropped.Load(),
		Sessions:         s.sessions.Load(),
		ConnectFailures:  s.connectFailures.Load(),
		AuthFailures:     s.authFailures.Load(),
		CommandsReceived: s.commandsReceived.Load(),
		CommandsRejected: s.commandsRejected.Load(),
		CommandsFailed:   s.commandsFailed.Load(),
		CommandsApplied:  s.commandsApplied.Load(),
		LastConnected:    loadTime(&s.lastConnected),
		LastDisconnected: loadTime(&s.lastDisconnected),
		LastBatchSent:    loadTime(&s.lastBatchSent),
	}
}

func storeNow(v *atomic.Int64) {
	v.Store(time.Now().UnixNano())
}

func loadTime(v *atomic.Int64) *time.Time {
	n := v.Load()
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}
