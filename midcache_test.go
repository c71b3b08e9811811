package coap

import (
	"testing"
	"time"
)

func TestAllocateMIDSkipsLiveEntries(t *testing.T) {
	c := NewSentCache(5)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Insert(5, &TransmissionRecord{Expiration: now.Add(time.Hour)})

	got := c.AllocateMID(now)
	if got != 6 {
		t.Fatalf("expected AllocateMID to skip the live MID 5 and return 6, got %d", got)
	}
}

func TestAllocateMIDReusesExpiredEntry(t *testing.T) {
	c := NewSentCache(5)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Insert(5, &TransmissionRecord{Expiration: now.Add(-time.Second)}) // already expired

	got := c.AllocateMID(now)
	if got != 5 {
		t.Fatalf("expected AllocateMID to reuse expired MID 5, got %d", got)
	}
}

func TestSentCacheSweepRemovesExpired(t *testing.T) {
	c := NewSentCache(0)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Insert(1, &TransmissionRecord{Expiration: now.Add(-time.Second)})
	c.Insert(2, &TransmissionRecord{Expiration: now.Add(time.Hour)})

	c.Sweep(now)

	if _, ok := c.Lookup(1); ok {
		t.Fatalf("expected expired record to be swept")
	}
	if _, ok := c.Lookup(2); !ok {
		t.Fatalf("expected live record to survive sweep")
	}
}

func TestReceivedCacheDuplicateDetection(t *testing.T) {
	c := NewReceivedCache()
	source := NewEndpoint("203.0.113.1", 5683, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, dup := c.CheckDuplicate(5, source); dup {
		t.Fatalf("expected no duplicate before insertion")
	}

	c.Insert(&ReceivedRecord{Source: source, MID: 5, ReceiveTime: now, Expiration: now.Add(time.Hour)})

	rec, dup := c.CheckDuplicate(5, source)
	if !dup {
		t.Fatalf("expected duplicate after insertion")
	}
	if rec.MID != 5 {
		t.Fatalf("unexpected matched record: %+v", rec)
	}

	other := NewEndpoint("203.0.113.2", 5683, "")
	if _, dup := c.CheckDuplicate(5, other); dup {
		t.Fatalf("expected no duplicate match for a different source")
	}
}

func TestReceivedCacheCachedReplyReplay(t *testing.T) {
	c := NewReceivedCache()
	source := NewEndpoint("203.0.113.1", 5683, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Insert(&ReceivedRecord{Source: source, MID: 5, ReceiveTime: now, Expiration: now.Add(time.Hour)})

	reply := &Message{Type: Acknowledgement, Code: Content, MessageID: 5}
	c.SetCachedReply(5, reply)

	rec, _ := c.CheckDuplicate(5, source)
	if rec.CachedReply != reply {
		t.Fatalf("expected cached reply to be attached")
	}
}
