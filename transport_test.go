package coap

import (
	"testing"
	"time"
)

type fakeTransport struct {
	sent []fakeSend
	err  error
}

type fakeSend struct {
	dest Endpoint
	data []byte
}

func (f *fakeTransport) Send(dest Endpoint, data []byte) error {
	if f.err != nil {
		return f.err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, fakeSend{dest: dest, data: cp})
	return nil
}

func (f *fakeTransport) Recv() (Endpoint, []byte, error) {
	return Endpoint{}, nil, nil
}

type fakeUpper struct {
	replies   []*Message
	resolved  []Resolution
	requests  []*Message
	responses []*Message
	calls     []string // records call order, for ordering assertions
}

func (u *fakeUpper) OnReply(handle Handle, reply *Message) {
	u.calls = append(u.calls, "reply")
	u.replies = append(u.replies, reply)
}
func (u *fakeUpper) OnResolved(handle Handle, outcome Resolution) {
	u.calls = append(u.calls, "resolved")
	u.resolved = append(u.resolved, outcome)
}
func (u *fakeUpper) OnInboundRequest(source Endpoint, msg *Message) {
	u.requests = append(u.requests, msg)
}
func (u *fakeUpper) OnInboundResponse(source Endpoint, msg *Message, matched Handle, hasMatch bool) {
	u.responses = append(u.responses, msg)
}

func TestCoreEmptyPingResolvesFailedOnRST(t *testing.T) {
	transport := &fakeTransport{}
	upper := &fakeUpper{}
	core := NewCore(transport, upper, nil, nil)
	dest := NewEndpoint("203.0.113.1", 5683, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	msg := &Message{Type: Confirmable, Code: CodeEmpty, MessageID: 0x1234}
	_, err := core.Submit(now, dest, msg, false)
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected exactly one transmission, got %d", len(transport.sent))
	}
	want := []byte{0x40, 0x00, 0x12, 0x34}
	if string(transport.sent[0].data) != string(want) {
		t.Fatalf("got % x, want % x", transport.sent[0].data, want)
	}

	rst := []byte{0x70, 0x00, 0x12, 0x34}
	core.HandleInbound(now, dest, rst)

	if len(upper.resolved) != 1 || upper.resolved[0] != Failed {
		t.Fatalf("expected resolved=failed, got %+v", upper.resolved)
	}
}

func TestCoreUnrecognizedCriticalOptionTriggersRSTWithSameMID(t *testing.T) {
	transport := &fakeTransport{}
	upper := &fakeUpper{}
	core := NewCore(transport, upper, nil, nil)
	source := NewEndpoint("203.0.113.1", 5683, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// CON, GET, mid=5, critical unregistered option 9, 0-length.
	data := []byte{0x40, 0x01, 0x00, 0x05, 0x90}
	core.HandleInbound(now, source, data)

	if len(transport.sent) != 1 {
		t.Fatalf("expected an RST to be sent, got %d sends", len(transport.sent))
	}
	want := []byte{0x70, 0x00, 0x00, 0x05} // RST, code 0.00, mid=5
	if string(transport.sent[0].data) != string(want) {
		t.Fatalf("got % x, want % x", transport.sent[0].data, want)
	}
	if len(upper.requests) != 0 {
		t.Fatalf("expected no upward delivery for a rejected message")
	}
}

func TestCorePiggybackedReplyPrecedesResolvedEvent(t *testing.T) {
	transport := &fakeTransport{}
	upper := &fakeUpper{}
	core := NewCore(transport, upper, nil, nil)
	dest := NewEndpoint("203.0.113.1", 5683, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	req := &Message{Type: Confirmable, Code: GET, MessageID: 42}
	if _, err := core.Submit(now, dest, req, true); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	ack := &Message{Type: Acknowledgement, Code: Content, MessageID: 42, Payload: []byte("ok")}
	data, err := ack.Encode()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	core.HandleInbound(now, dest, data)

	want := []string{"reply", "resolved"}
	if len(upper.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, upper.calls)
	}
	for i := range want {
		if upper.calls[i] != want[i] {
			t.Fatalf("expected reply delivery before resolved event, got call order %v", upper.calls)
		}
	}
}

func TestCoreNSTARTQueuesSecondRequest(t *testing.T) {
	transport := &fakeTransport{}
	upper := &fakeUpper{}
	params := DefaultTransmissionParameters()
	params.NStart = 1
	core := NewCore(transport, upper, params, nil)
	dest := NewEndpoint("203.0.113.1", 5683, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	msgA := &Message{Type: Confirmable, Code: GET, MessageID: 1, Token: []byte{0x01}}
	if _, err := core.Submit(now, dest, msgA, true); err != nil {
		t.Fatalf("unexpected error submitting A: %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected A to be transmitted immediately, got %d sends", len(transport.sent))
	}

	msgB := &Message{Type: Confirmable, Code: GET, MessageID: 2, Token: []byte{0x02}}
	if _, err := core.Submit(now, dest, msgB, true); err != nil {
		t.Fatalf("unexpected error submitting B: %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected B to be queued (still only 1 send), got %d sends", len(transport.sent))
	}

	// A resolves via an ACK; draining should now let B through.
	ackA := []byte{0x60, 0x00, 0x00, 0x01} // ACK, empty, mid=1 -- note: piggybacked would carry Content, kept empty here for simplicity
	core.HandleInbound(now, dest, ackA)

	if len(transport.sent) != 2 {
		t.Fatalf("expected B to drain and be transmitted once A resolved, got %d sends", len(transport.sent))
	}
}

func TestCoreSendReplyCachesForDuplicateReplay(t *testing.T) {
	transport := &fakeTransport{}
	upper := &fakeUpper{}
	core := NewCore(transport, upper, nil, nil)
	source := NewEndpoint("203.0.113.1", 5683, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	req := &Message{Type: Confirmable, Code: GET, MessageID: 9}
	data, err := req.Encode()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	core.HandleInbound(now, source, data)
	if len(upper.requests) != 1 {
		t.Fatalf("expected the fresh request to be delivered upward")
	}

	reply := &Message{Type: Acknowledgement, Code: Content, MessageID: 9, Payload: []byte("ok")}
	if err := core.SendReply(now, source, reply); err != nil {
		t.Fatalf("unexpected error sending reply: %v", err)
	}

	// Duplicate arrives later: should replay the reply, not redeliver upward.
	core.HandleInbound(now.Add(time.Second), source, data)
	if len(upper.requests) != 1 {
		t.Fatalf("expected no redelivery on duplicate receive, got %d deliveries", len(upper.requests))
	}
	if len(transport.sent) != 2 {
		t.Fatalf("expected the reply to have been sent twice (once directly, once replayed), got %d", len(transport.sent))
	}
}

func TestCoreUpperResolutionCancelsRetransmissionButKeepsRecord(t *testing.T) {
	transport := &fakeTransport{}
	upper := &fakeUpper{}
	core := NewCore(transport, upper, nil, nil)
	dest := NewEndpoint("203.0.113.1", 5683, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	req := &Message{Type: Confirmable, Code: GET, MessageID: 11}
	handle, err := core.Submit(now, dest, req, true)
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	if !core.UpperResolution(handle, Succeeded) {
		t.Fatalf("expected UpperResolution to find the outstanding transmission")
	}
	if core.UpperResolution(Handle{}, Succeeded) {
		t.Fatalf("expected UpperResolution to report no match for an unknown handle")
	}

	// A late reply for the same mid should still resolve against the
	// kept record rather than producing a ReplyMessageError.
	ack := &Message{Type: Acknowledgement, Code: CodeEmpty, MessageID: 11}
	data, err := ack.Encode()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	core.HandleInbound(now, dest, data)
	if len(upper.resolved) == 0 {
		t.Fatalf("expected the late reply to still resolve the kept record")
	}
}
