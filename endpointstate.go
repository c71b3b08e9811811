package coap

import (
	"math/rand"
	"time"
)

// Event is something the endpoint state machine asks its caller to do
// in response to an input: retransmit a message, tell the upper layer
// a transmission resolved, deliver an inbound message, or send a
// reply. The caller (normally Core, see transport.go) is responsible
// for actually driving the Transport and UpperLayer with these.
type Event interface{ isEvent() }

// RetransmitEvent asks the caller to resend Message to Remote.
type RetransmitEvent struct {
	Remote  Endpoint
	Message *Message
}

// ResolvedEvent reports a transmission's terminal disposition.
type ResolvedEvent struct {
	Handle  Handle
	Outcome Resolution
}

// DeliverEvent asks the caller to hand an inbound message to the
// upper layer.
type DeliverEvent struct {
	Source  Endpoint
	Message *Message
}

// SendReplyEvent asks the caller to transmit a reply (ACK/RST) to
// Remote, bypassing congestion/BEBO bookkeeping (replies are not
// new interactions).
type SendReplyEvent struct {
	Remote  Endpoint
	Message *Message
}

func (RetransmitEvent) isEvent() {}
func (ResolvedEvent) isEvent()   {}
func (DeliverEvent) isEvent()    {}
func (SendReplyEvent) isEvent()  {}

// EndpointState is the per-remote-peer bookkeeping of spec section
// 4.6: outstanding interactions against NSTART, a sliding PROBING_RATE
// byte budget, responsiveness, and the sent/received MID caches that
// belong to this remote exclusively.
type EndpointState struct {
	Remote Endpoint

	params *TransmissionParameters
	rng    *rand.Rand

	Sent     *SentCache
	Received *ReceivedCache

	bytesInWindow float64
	windowStart   time.Time
	responsive    bool
	lastReply     time.Time

	// quietInterval bounds how long a peer may go without a reply
	// before responsiveness resets to false. NewEndpointState sets it
	// to ExchangeLifetime; it is unexported and has no setter, so it
	// cannot be changed from outside the package.
	quietInterval time.Duration
}

// NewEndpointState constructs the bookkeeping for remote, anchoring
// its PROBING_RATE window at now.
func NewEndpointState(remote Endpoint, params *TransmissionParameters, rng *rand.Rand, now time.Time) *EndpointState {
	return &EndpointState{
		Remote:        remote,
		params:        params,
		rng:           rng,
		Sent:          NewSentCache(uint16(rng.Intn(1 << 16))),
		Received:      NewReceivedCache(),
		windowStart:   now,
		quietInterval: params.ExchangeLifetime(),
	}
}

// OutstandingInteractions counts live sent records that are requests
// (the NSTART-governed quantity of spec section 4.6).
func (es *EndpointState) OutstandingInteractions(now time.Time) int {
	n := 0
	for _, rec := range es.Sent.Records() {
		if rec.IsRequest && rec.Outstanding(now) {
			n++
		}
	}
	return n
}

// CanSubmitRequest reports whether a new request may be sent now
// without exceeding NSTART.
func (es *EndpointState) CanSubmitRequest(now time.Time) bool {
	return es.OutstandingInteractions(now) < es.params.NStart
}

// CanSendBytes reports whether nbytes may be sent now under the
// PROBING_RATE budget. A responsive remote bypasses the check
// entirely, per spec section 4.6.
func (es *EndpointState) CanSendBytes(now time.Time, nbytes int) bool {
	es.maybeResetResponsiveness(now)
	if es.responsive {
		return true
	}
	if es.bytesInWindow == 0 {
		// Nothing charged against this window yet: allow the first probe
		// to a peer unconditionally, since a zero-elapsed window would
		// otherwise forbid ever sending anything.
		return true
	}
	elapsed := now.Sub(es.windowStart).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	budget := es.params.ProbingRate * elapsed
	return es.bytesInWindow+float64(nbytes) <= budget
}

func (es *EndpointState) maybeResetResponsiveness(now time.Time) {
	if es.responsive && !es.lastReply.IsZero() && now.Sub(es.lastReply) > es.quietInterval {
		es.responsive = false
		es.bytesInWindow = 0
		es.windowStart = now
	}
}

// recordTx charges nbytes against the PROBING_RATE window.
func (es *EndpointState) recordTx(now time.Time, nbytes int) {
	es.bytesInWindow += float64(nbytes)
}

// expirationFor computes the dedup-cache/BEBO expiration deadline for
// a message about to be submitted, per spec section 4.4/4.5.
func (es *EndpointState) expirationFor(now time.Time, msgType Type, isRequest bool) time.Time {
	switch {
	case msgType == Confirmable && isRequest:
		return now.Add(es.params.ExchangeLifetime())
	case msgType == Confirmable && !isRequest:
		return now.Add(es.params.MaxTransmitWait())
	case msgType == NonConfirmable && isRequest:
		return now.Add(es.params.NonLifetime())
	case msgType == NonConfirmable && !isRequest:
		return now.Add(es.params.NonRequestLifetime())
	default: // ACK/RST reply cache window
		return now.Add(es.params.NonRequestLifetime())
	}
}

// SubmitSend registers msg as handed to transport at now, allocating
// a fresh MID into msg.MessageID when assignMID is true (Core does so
// for a non-ACK message whose MessageID is zero). Callers that
// pre-assign a MID, e.g. a piggybacked response, pass it through
// msg.MessageID and assignMID=false.
func (es *EndpointState) SubmitSend(now time.Time, handle Handle, msg *Message, isRequest bool, assignMID bool) *TransmissionRecord {
	if assignMID {
		msg.MessageID = es.Sent.AllocateMID(now)
	}
	expiration := es.expirationFor(now, msg.Type, isRequest)

	rec := &TransmissionRecord{
		Handle:     handle,
		Message:    msg,
		Expiration: expiration,
		Resolution: Unresolved,
		IsRequest:  isRequest,
	}
	if msg.Type == Confirmable {
		rec.BEBO = NewBEBOState(now, es.params, es.rng, expiration)
	}
	es.Sent.Insert(msg.MessageID, rec)
	return rec
}

// CancelSend cancels the sent record for handle, if any and if still
// pending resolution. Returns true if a record was found.
func (es *EndpointState) CancelSend(handle Handle) bool {
	for _, rec := range es.Sent.Records() {
		if rec.Handle == handle {
			if rec.BEBO != nil {
				rec.BEBO.Cancel()
			} else if rec.Resolution == Unresolved {
				rec.Resolution = Failed
			}
			return true
		}
	}
	return false
}

// Tick advances every BEBO timer whose NextFireTime has passed and
// sweeps expired cache entries, returning the events the caller must
// act on (in non-decreasing timestamp order per record, since each
// record's own Fire calls are strictly sequential).
func (es *EndpointState) Tick(now time.Time) []Event {
	var events []Event
	for _, rec := range es.Sent.Records() {
		if rec.BEBO == nil || rec.BEBO.Resolution != Unresolved {
			continue
		}
		for !rec.BEBO.NextFireTime.After(now) {
			action := rec.BEBO.Fire(now)
			if action.Retransmit {
				events = append(events, RetransmitEvent{Remote: es.Remote, Message: rec.Message})
				es.recordTx(now, len(mustEncode(rec.Message)))
			}
			if action.Resolved {
				rec.Resolution = action.Outcome
				events = append(events, ResolvedEvent{Handle: rec.Handle, Outcome: action.Outcome})
				break
			}
			if !action.Retransmit && !action.Resolved {
				break // cancelled mid-retransmission; nothing to do until expiration sweep
			}
		}
	}
	es.Sent.Sweep(now)
	es.Received.Sweep(now)
	return events
}

// mustEncode is used only for PROBING_RATE accounting of a
// retransmission the caller already validated as encodable at first
// transmission; an encode failure here would mean the message was
// mutated after becoming immutable, which is a caller bug.
func mustEncode(m *Message) []byte {
	b, err := m.Encode()
	if err != nil {
		return nil
	}
	return b
}

// ReplyReceived pairs an inbound ACK/RST with its outstanding sent
// CON by MID, resolving it and marking the endpoint responsive. It
// returns (events, matched); matched is false when the sent cache
// holds no CON record for mid (a ReplyMessageError candidate for the
// caller to log and drop, per spec section 7). A reply for a record
// that is already resolved but still cached is matched and reported
// with its existing resolution.
func (es *EndpointState) ReplyReceived(mid uint16, replyType Type, now time.Time) ([]Event, bool) {
	rec, ok := es.Sent.Lookup(mid)
	if !ok || rec.BEBO == nil {
		return nil, false
	}
	rec.BEBO.OnReply(replyType)
	if rec.BEBO.Resolution == Unresolved {
		return nil, true
	}
	rec.Resolution = rec.BEBO.Resolution
	es.responsive = true
	es.lastReply = now
	return []Event{ResolvedEvent{Handle: rec.Handle, Outcome: rec.Resolution}}, true
}

// UpperResolution lets the upper layer force a resolution (e.g. an
// exchange layer deciding a response is now complete), cancelling any
// further retransmission but keeping the record for dedup, per spec
// section 9's resolved open question (i).
func (es *EndpointState) UpperResolution(handle Handle, outcome Resolution) bool {
	for _, rec := range es.Sent.Records() {
		if rec.Handle == handle {
			if rec.BEBO != nil {
				rec.BEBO.Cancel()
				rec.BEBO.Resolution = outcome
			}
			rec.Resolution = outcome
			es.responsive = true
			return true
		}
	}
	return false
}

// ReceiveInbound processes a freshly decoded inbound message from
// Remote: it deduplicates by (source, mid) for CON/NON messages. A
// duplicate with a cached reply yields a SendReplyEvent that replays
// the reply verbatim without re-delivering upward; a duplicate with
// no cached reply yields nothing (silently dropped, per spec section
// 4.5); a fresh message yields a DeliverEvent.
func (es *EndpointState) ReceiveInbound(now time.Time, msg *Message) []Event {
	if msg.Type == Acknowledgement || msg.Type == Reset {
		// Replies are matched via ReplyReceived, not deduplicated here:
		// they carry the MID of the message they reply to, not a MID
		// of their own stream (spec section 4.5).
		return nil
	}

	if rec, dup := es.Received.CheckDuplicate(msg.MessageID, es.Remote); dup {
		if rec.CachedReply != nil {
			return []Event{SendReplyEvent{Remote: es.Remote, Message: rec.CachedReply}}
		}
		return nil
	}

	es.Received.Insert(&ReceivedRecord{
		Source:      es.Remote,
		MID:         msg.MessageID,
		ReceiveTime: now,
		Expiration:  es.expirationFor(now, msg.Type, msg.IsRequest()),
	})
	return []Event{DeliverEvent{Source: es.Remote, Message: msg}}
}

// RecordReplySent attaches the reply just sent for mid so a later
// duplicate receive replays it verbatim instead of re-delivering.
func (es *EndpointState) RecordReplySent(mid uint16, reply *Message) {
	es.Received.SetCachedReply(mid, reply)
}
