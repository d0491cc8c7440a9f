package controller

import (
	"testing"
	"time"

	"rubin.dev/dposvoter/committee"
)

func TestHeartbeatsKeepsMostRecentTimestamp(t *testing.T) {
	h := newHeartbeats()
	var who committee.OperatorKeyID
	who[0] = 0x01

	h.Receive(who, 1000)
	h.Receive(who, 500) // older, must not regress
	ts, ok := h.LastSeen(who)
	if !ok || ts != 1000 {
		t.Fatalf("expected last-seen to stay at 1000, got %d ok=%v", ts, ok)
	}

	h.Receive(who, 2000)
	ts, ok = h.LastSeen(who)
	if !ok || ts != 2000 {
		t.Fatalf("expected last-seen to advance to 2000, got %d ok=%v", ts, ok)
	}
}

func TestHeartbeatsIsStale(t *testing.T) {
	h := newHeartbeats()
	var who committee.OperatorKeyID
	who[0] = 0x02

	if !h.IsStale(who, time.Now(), time.Minute) {
		t.Fatalf("expected never-seen sender to be stale")
	}

	now := time.Now()
	h.Receive(who, now.UnixMilli())
	if h.IsStale(who, now.Add(time.Second), time.Minute) {
		t.Fatalf("expected fresh beacon to not be stale")
	}
	if !h.IsStale(who, now.Add(2*time.Minute), time.Minute) {
		t.Fatalf("expected beacon older than maxAge to be stale")
	}
}

func TestHeartbeatsForget(t *testing.T) {
	h := newHeartbeats()
	var who committee.OperatorKeyID
	who[0] = 0x03

	h.Receive(who, time.Now().UnixMilli())
	h.Forget(who)
	if _, ok := h.LastSeen(who); ok {
		t.Fatalf("expected forgotten sender to be absent")
	}
}
