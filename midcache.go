package coap

import "time"

// TransmissionRecord is a sent message's bookkeeping, owned
// exclusively by the EndpointState for its destination (spec section
// 3's ownership rule). Handle is the opaque upper-layer identifier
// returned from submit(); it is distinct from the wire MID, which is
// a scarce 16-bit resource shared with deduplication.
type TransmissionRecord struct {
	Handle     Handle
	Message    *Message
	BEBO       *BEBOState // nil for NON/ACK/RST, which have no retransmission schedule
	Expiration time.Time
	Resolution Resolution
	IsRequest  bool
}

// Outstanding reports whether this record still counts against
// NSTART: unresolved and not yet cancelled-to-completion.
func (t *TransmissionRecord) Outstanding(now time.Time) bool {
	if t.BEBO != nil {
		return t.BEBO.Outstanding(now)
	}
	return t.Resolution == Unresolved && now.Before(t.Expiration)
}

// ReceivedRecord is a received message's dedup bookkeeping, owned
// exclusively by the EndpointState for its source.
type ReceivedRecord struct {
	Source      Endpoint
	MID         uint16
	ReceiveTime time.Time
	CachedReply *Message
	Expiration  time.Time
}

// SentCache is the per-remote-endpoint sent-MID deduplication table
// (spec section 4.5): it tracks which MIDs this endpoint has live
// sent records for, so a new message never reuses a still-live MID.
type SentCache struct {
	entries map[uint16]*TransmissionRecord
	nextMID uint16
}

// NewSentCache returns an empty sent cache whose first AllocateMID
// call starts from startMID. NewEndpointState passes a random uint16
// so initial MIDs are unpredictable.
func NewSentCache(startMID uint16) *SentCache {
	return &SentCache{entries: make(map[uint16]*TransmissionRecord), nextMID: startMID}
}

// AllocateMID returns a MID with no live entry in the cache as of now,
// advancing monotonically with 16-bit wraparound and skipping MIDs
// that are still live. It does not insert the MID; call Insert once
// the record is ready.
func (c *SentCache) AllocateMID(now time.Time) uint16 {
	for i := 0; i < 1<<16; i++ {
		mid := c.nextMID
		c.nextMID++
		if rec, ok := c.entries[mid]; !ok || now.After(rec.Expiration) {
			delete(c.entries, mid)
			return mid
		}
	}
	// All 65536 MIDs are live: congestion limits (NSTART) should make
	// this unreachable in practice, but return the next value anyway
	// rather than block forever.
	return c.nextMID
}

// Insert records rec under mid.
func (c *SentCache) Insert(mid uint16, rec *TransmissionRecord) {
	c.entries[mid] = rec
}

// Lookup returns the sent record for mid, used to pair an inbound
// ACK/RST with its outstanding request.
func (c *SentCache) Lookup(mid uint16) (*TransmissionRecord, bool) {
	rec, ok := c.entries[mid]
	return rec, ok
}

// Remove drops a sent record once it is no longer live.
func (c *SentCache) Remove(mid uint16) {
	delete(c.entries, mid)
}

// Records returns every sent record in the cache, for congestion
// accounting; expired records remain until Sweep removes them.
func (c *SentCache) Records() []*TransmissionRecord {
	out := make([]*TransmissionRecord, 0, len(c.entries))
	for _, rec := range c.entries {
		out = append(out, rec)
	}
	return out
}

// Sweep removes sent records whose cache-entry expiration has passed.
func (c *SentCache) Sweep(now time.Time) {
	for mid, rec := range c.entries {
		if now.After(rec.Expiration) {
			delete(c.entries, mid)
		}
	}
}

// ReceivedCache is the per-remote-endpoint received-MID deduplication
// table (spec section 4.5).
type ReceivedCache struct {
	entries map[uint16]*ReceivedRecord
}

// NewReceivedCache returns an empty received cache.
func NewReceivedCache() *ReceivedCache {
	return &ReceivedCache{entries: make(map[uint16]*ReceivedRecord)}
}

// CheckDuplicate reports whether mid already has an entry from the
// same source (expired entries count until Sweep removes them); if so
// that entry is the duplicate's match.
func (c *ReceivedCache) CheckDuplicate(mid uint16, source Endpoint) (*ReceivedRecord, bool) {
	rec, ok := c.entries[mid]
	if !ok || !rec.Source.Equal(source) {
		return nil, false
	}
	return rec, true
}

// Insert records a freshly delivered (non-duplicate) message.
func (c *ReceivedCache) Insert(rec *ReceivedRecord) {
	c.entries[rec.MID] = rec
}

// SetCachedReply attaches the reply sent for mid, so a later
// duplicate receive can be answered without redelivering upward.
func (c *ReceivedCache) SetCachedReply(mid uint16, reply *Message) {
	if rec, ok := c.entries[mid]; ok {
		rec.CachedReply = reply
	}
}

// Sweep removes received records whose expiration has passed.
func (c *ReceivedCache) Sweep(now time.Time) {
	for mid, rec := range c.entries {
		if now.After(rec.Expiration) {
			delete(c.entries, mid)
		}
	}
}
