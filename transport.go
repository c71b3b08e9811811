package coap

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Handle is the opaque upper-layer identifier returned from Submit.
// It is minted independently of the wire Message ID: MIDs are a
// scarce 16-bit resource shared with deduplication (spec section
// 4.5), while a Handle only needs to be unique for as long as the
// upper layer cares about a transmission's resolution.
type Handle = xid.ID

// Transport is the injected collaborator providing datagram I/O (spec
// section 6). Send must be non-blocking; a returned error resolves
// the affected transmission as failed. Recv delivers on a single
// channel regardless of source.
type Transport interface {
	Send(dest Endpoint, data []byte) error
	Recv() (Endpoint, []byte, error)
}

// UpperLayer is the collaborator above the message layer: the
// exchange/transaction layer that consumes resolution and delivery
// events (spec section 6).
type UpperLayer interface {
	OnReply(handle Handle, reply *Message)
	OnResolved(handle Handle, outcome Resolution)
	OnInboundRequest(source Endpoint, msg *Message)
	OnInboundResponse(source Endpoint, msg *Message, matched Handle, hasMatch bool)
}

// pendingSend is a submission queued because CanSubmitRequest or
// CanSendBytes blocked it at submit time (spec scenario 6: NSTART
// enforcement).
type pendingSend struct {
	handle    Handle
	msg       *Message
	isRequest bool
}

// Core is the single-threaded event-loop orchestrator tying the
// option/message codec (C1-C3) to the per-endpoint state machines
// (C6-C8) via an injected Transport and UpperLayer, per spec section
// 5's concurrency model: one event-dispatch step at a time, atomic
// with respect to cache mutation.
//
// Every exported method of Core holds mu for the whole of its step, so
// calls made from several goroutines are serialized into one step at a
// time.
type Core struct {
	Registry   *Registry
	Params     *TransmissionParameters
	Transport  Transport
	Upper      UpperLayer
	Collector  *Collector

	mu        sync.Mutex // held by every exported method for its whole step; guards endpoints, pending and the endpoint states
	endpoints map[Endpoint]*EndpointState
	pending   map[Endpoint][]pendingSend
	rng       *rand.Rand
}

// NewCore builds a Core. transport and upper must be non-nil; params
// may be nil to use DefaultTransmissionParameters(); registry may be
// nil to use NewBaseRegistry().
func NewCore(transport Transport, upper UpperLayer, params *TransmissionParameters, registry *Registry) *Core {
	if params == nil {
		params = DefaultTransmissionParameters()
	}
	if registry == nil {
		registry = NewBaseRegistry()
	}
	return &Core{
		Registry:  registry,
		Params:    params,
		Transport: transport,
		Upper:     upper,
		endpoints: make(map[Endpoint]*EndpointState),
		pending:   make(map[Endpoint][]pendingSend),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Core) endpointState(remote Endpoint, now time.Time) *EndpointState {
	es, ok := c.endpoints[remote]
	if !ok {
		es = NewEndpointState(remote, c.Params, c.rng, now)
		c.endpoints[remote] = es
	}
	return es
}

// Submit hands msg to the message layer for transmission to dest,
// returning a Handle the caller can later Cancel or correlate with
// on_resolved. If msg is a request and NSTART would be exceeded, or if
// sending it (request or not) would exceed PROBING_RATE, it is queued
// rather than transmitted immediately (spec scenario 6); Tick drains
// the queue as room becomes available.
func (c *Core) Submit(now time.Time, dest Endpoint, msg *Message, isRequest bool) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := msg.Validate(); err != nil {
		return Handle{}, err
	}

	handle := xid.New()
	es := c.endpointState(dest, now)

	if c.readyToSend(es, now, msg, isRequest) {
		c.doSend(es, now, handle, msg, isRequest)
	} else {
		c.pending[dest] = append(c.pending[dest], pendingSend{handle: handle, msg: msg, isRequest: isRequest})
		traceDebug("[coap] queued send to %s: nstart/probing-rate blocked", dest)
	}
	return handle, nil
}

func (c *Core) readyToSend(es *EndpointState, now time.Time, msg *Message, isRequest bool) bool {
	if isRequest && !es.CanSubmitRequest(now) {
		return false
	}
	encoded, err := msg.Encode()
	if err != nil {
		return true // let doSend surface the encode error
	}
	return es.CanSendBytes(now, len(encoded))
}

func (c *Core) doSend(es *EndpointState, now time.Time, handle Handle, msg *Message, isRequest bool) {
	assignMID := msg.MessageID == 0 && msg.Type != Acknowledgement
	rec := es.SubmitSend(now, handle, msg, isRequest, assignMID)
	data, err := msg.Encode()
	if err != nil {
		rec.Resolution = Failed
		if c.Upper != nil {
			c.Upper.OnResolved(handle, Failed)
		}
		return
	}
	if err := c.Transport.Send(es.Remote, data); err != nil {
		rec.Resolution = Failed
		if rec.BEBO != nil {
			rec.BEBO.Resolution = Failed
		}
		if c.Upper != nil {
			c.Upper.OnResolved(handle, Failed)
		}
		traceWarn("[coap] transport send to %s failed: %s", es.Remote, newTransportError(err))
		return
	}
	es.recordTx(now, len(data))
	if c.Collector != nil {
		c.Collector.observeSend(es.Remote, len(data))
	}
}

// Cancel cancels the sent record identified by handle, if still
// pending resolution, across every tracked endpoint.
func (c *Core) Cancel(handle Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for dest, queue := range c.pending {
		for i, p := range queue {
			if p.handle == handle {
				c.pending[dest] = append(queue[:i], queue[i+1:]...)
				return true
			}
		}
	}
	for _, es := range c.endpoints {
		if es.CancelSend(handle) {
			return true
		}
	}
	return false
}

// UpperResolution lets the upper layer force a resolution on a still-
// outstanding transmission (e.g. an exchange layer deciding a response
// is complete before a matching ACK/RST arrives), per spec section
// 4.6's upper_resolution event. It cancels further retransmission but
// keeps the record for dedup, per spec section 9's open question (i).
// Returns false if handle names no tracked transmission.
func (c *Core) UpperResolution(handle Handle, outcome Resolution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, es := range c.endpoints {
		if es.UpperResolution(handle, outcome) {
			return true
		}
	}
	return false
}

// HandleInbound decodes data from source and drives the state machine
// to completion: deduplication, reply pairing, and delivery to the
// upper layer. It is the receive-path half of Tick's responsibilities
// and should be called once per Transport.Recv() result.
func (c *Core) HandleInbound(now time.Time, source Endpoint, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := Decode(c.Registry, data)
	if err != nil {
		if msg == nil {
			traceWarn("[coap] dropping unparseable datagram from %s: %s", source, err)
			return
		}
		// Partial decode: a CON with an invalid option gets an RST
		// with the same MID (spec scenario 5); anything else is just
		// dropped with a diagnostic.
		traceWarn("[coap] rejecting message %d from %s: %s", msg.MessageID, source, err)
		if msg.Type == Confirmable {
			c.sendReply(now, source, &Message{Type: Reset, Code: CodeEmpty, MessageID: msg.MessageID})
		}
		return
	}

	es := c.endpointState(source, now)

	if msg.Type == Acknowledgement || msg.Type == Reset {
		events, matched := es.ReplyReceived(msg.MessageID, msg.Type, now)
		if !matched {
			traceWarn("[coap] %s", newReplyMessageError(msg.MessageID))
			return
		}
		var handle Handle
		if rec, ok := es.Sent.Lookup(msg.MessageID); ok {
			handle = rec.Handle
		}
		// Reply delivery precedes the resolved event (spec section 5's
		// ordering guarantee), so the upper layer is handed the reply
		// before dispatch fires the ResolvedEvent below.
		if c.Upper != nil {
			if msg.Type == Acknowledgement && msg.Code != CodeEmpty {
				// Piggybacked response.
				c.Upper.OnReply(handle, msg)
				c.Upper.OnInboundResponse(source, msg, handle, true)
			} else if msg.Type == Acknowledgement {
				c.Upper.OnReply(handle, msg)
			}
		}
		c.dispatch(events)
		c.drainPending(es, now)
		return
	}

	events := es.ReceiveInbound(now, msg)
	c.dispatch(events)
	for _, ev := range events {
		if d, ok := ev.(DeliverEvent); ok {
			if d.Message.IsRequest() {
				if c.Upper != nil {
					c.Upper.OnInboundRequest(source, d.Message)
				}
			} else if c.Upper != nil {
				c.Upper.OnInboundResponse(source, d.Message, Handle{}, false)
			}
		}
	}
}

// SendReply transmits an ACK/RST reply to a received request,
// recording it in the received cache so a later duplicate replays it
// verbatim (spec section 4.5).
func (c *Core) SendReply(now time.Time, dest Endpoint, reply *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendReply(now, dest, reply)
}

func (c *Core) sendReply(now time.Time, dest Endpoint, reply *Message) error {
	data, err := reply.Encode()
	if err != nil {
		return err
	}
	es := c.endpointState(dest, now)
	if err := c.Transport.Send(dest, data); err != nil {
		return newTransportError(err)
	}
	es.RecordReplySent(reply.MessageID, reply)
	return nil
}

// Tick drives timers: BEBO retransmission/expiration for every
// tracked endpoint, then drains any queued sends that congestion now
// permits. Callers should invoke it at least as often as the nearest
// NextFireTime across all endpoints, per spec section 5's bounded-
// reaping guarantee.
func (c *Core) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, es := range c.endpoints {
		events := es.Tick(now)
		c.dispatch(events)
		c.drainPending(es, now)
		if c.Collector != nil {
			c.Collector.observeGauges(es.Remote, es.OutstandingInteractions(now), es.bytesInWindow)
		}
	}
}

func (c *Core) drainPending(es *EndpointState, now time.Time) {
	queue := c.pending[es.Remote]
	if len(queue) == 0 {
		return
	}
	var remaining []pendingSend
	for _, p := range queue {
		if c.readyToSend(es, now, p.msg, p.isRequest) {
			c.doSend(es, now, p.handle, p.msg, p.isRequest)
		} else {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		delete(c.pending, es.Remote)
	} else {
		c.pending[es.Remote] = remaining
	}
}

func (c *Core) dispatch(events []Event) {
	for _, ev := range events {
		switch e := ev.(type) {
		case RetransmitEvent:
			data, err := e.Message.Encode()
			if err != nil {
				continue
			}
			if err := c.Transport.Send(e.Remote, data); err != nil {
				traceWarn("[coap] retransmit to %s failed: %s", e.Remote, newTransportError(err))
				if es, ok := c.endpoints[e.Remote]; ok {
					if rec, ok := es.Sent.Lookup(e.Message.MessageID); ok && rec.Resolution == Unresolved {
						rec.Resolution = Failed
						if rec.BEBO != nil {
							rec.BEBO.Resolution = Failed
						}
						if c.Upper != nil {
							c.Upper.OnResolved(rec.Handle, Failed)
						}
					}
				}
			}
			if c.Collector != nil {
				c.Collector.observeRetransmit(e.Remote)
			}
		case ResolvedEvent:
			if c.Upper != nil {
				c.Upper.OnResolved(e.Handle, e.Outcome)
			}
			if c.Collector != nil {
				c.Collector.observeResolved(e.Outcome)
			}
		case DeliverEvent:
			// Handled by the caller (HandleInbound distinguishes
			// request vs response delivery), kept here only so
			// dispatch remains the single place that type-switches
			// Event.
		case SendReplyEvent:
			if _, err := c.sendReply2(e); err != nil {
				traceWarn("[coap] send-reply to %s failed: %s", e.Remote, err)
			}
		}
	}
}

func (c *Core) sendReply2(e SendReplyEvent) (struct{}, error) {
	data, err := e.Message.Encode()
	if err != nil {
		return struct{}{}, err
	}
	return struct{}{}, c.Transport.Send(e.Remote, data)
}
