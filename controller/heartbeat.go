package controller

import (
	"sync"
	"time"

	"rubin.dev/dposvoter/committee"
)

// Heartbeats tracks per-operator liveness announcements, adapted from the
// original implementation's CHeartBeat (heartbeat.cpp/.h): a masternode
// periodically posts a timestamped, content-hashed beacon so its peers can
// tell it is still alive independent of whether it has cast any vote. This
// is a liveness signal only -- it never feeds into dpos.Voter state (§7:
// peer-scoring/liveness decisions stay out of the core).
type Heartbeats struct {
	mu   sync.Mutex
	last map[committee.OperatorKeyID]int64 // unix millis of most recent beacon seen
}

func newHeartbeats() *Heartbeats {
	return &Heartbeats{last: make(map[committee.OperatorKeyID]int64)}
}

// Receive records a beacon from sender at timestampMillis, keeping only the
// most recent one (the original's recieveMessage()/relayMessage() dedup by
// hash; here the natural dedup key is "newer timestamp from this sender").
func (h *Heartbeats) Receive(sender committee.OperatorKeyID, timestampMillis int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.last[sender]; !ok || timestampMillis > prev {
		h.last[sender] = timestampMillis
	}
}

// Forget drops a sender's beacon, for when it leaves the committee.
func (h *Heartbeats) Forget(sender committee.OperatorKeyID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.last, sender)
}

// LastSeen returns the most recent beacon timestamp for sender, or (0, false)
// if none has been seen.
func (h *Heartbeats) LastSeen(sender committee.OperatorKeyID) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts, ok := h.last[sender]
	return ts, ok
}

// IsStale reports whether sender's last beacon is older than maxAge relative
// to now, or missing entirely.
func (h *Heartbeats) IsStale(sender committee.OperatorKeyID, now time.Time, maxAge time.Duration) bool {
	ts, ok := h.LastSeen(sender)
	if !ok {
		return true
	}
	return now.Sub(time.UnixMilli(ts)) > maxAge
}

// postHeartbeat is called once per polling quantum (§4.E) to announce this
// node's own liveness, mirroring the original's postToAll().
func (c *Controller) postHeartbeat() {
	now := time.Now()
	c.heartbeats.Receive(c.cfg.Me, now.UnixMilli())
	c.transport.BroadcastHeartbeat(c.cfg.Me, now.UnixMilli())
}
