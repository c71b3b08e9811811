package coap

import (
	"math/rand"
	"testing"
	"time"
)

func TestBEBORetransmitsThenSucceedsOnThirdTry(t *testing.T) {
	params := &TransmissionParameters{
		AckTimeout:      2 * time.Second,
		AckRandomFactor: 1.0, // deterministic tau0
		MaxRetransmit:   4,
		NStart:          1,
		ProbingRate:     1,
	}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiration := t0.Add(time.Hour)
	rng := rand.New(rand.NewSource(1))
	b := NewBEBOState(t0, params, rng, expiration)

	if b.NextFireTime != t0.Add(2*time.Second) {
		t.Fatalf("expected tau0=2s, got first fire at %v", b.NextFireTime.Sub(t0))
	}

	transmissions := 1 // the initial send, already counted by the caller
	fire := b.Fire(t0.Add(2 * time.Second))
	if !fire.Retransmit {
		t.Fatalf("expected retransmit at t=2")
	}
	transmissions++
	if b.NextFireTime != t0.Add(6*time.Second) {
		t.Fatalf("expected next fire at t=6, got %v", b.NextFireTime.Sub(t0))
	}

	fire = b.Fire(t0.Add(6 * time.Second))
	if !fire.Retransmit {
		t.Fatalf("expected retransmit at t=6")
	}
	transmissions++

	b.OnReply(Acknowledgement)
	if b.Resolution != Succeeded {
		t.Fatalf("expected Succeeded after ACK, got %v", b.Resolution)
	}
	if transmissions != 3 {
		t.Fatalf("expected 3 total transmissions, got %d", transmissions)
	}
}

func TestBEBOBoundOnTransmissionsAndWait(t *testing.T) {
	params := DefaultTransmissionParameters()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(2))
	b := NewBEBOState(t0, params, rng, t0.Add(params.ExchangeLifetime()))

	retransmissions := 0
	now := b.NextFireTime
	for i := 0; i < 1000; i++ {
		action := b.Fire(now)
		if action.Retransmit {
			retransmissions++
		}
		if action.Resolved {
			if action.Outcome != Failed {
				t.Fatalf("expected Failed outcome on BEBO timeout, got %v", action.Outcome)
			}
			break
		}
		now = b.NextFireTime
	}

	if retransmissions > params.MaxRetransmit {
		t.Fatalf("retransmissions %d exceeded MAX_RETRANSMIT %d", retransmissions, params.MaxRetransmit)
	}
	if b.Resolution != Failed {
		t.Fatalf("expected the BEBO schedule to resolve Failed after exhausting retransmits")
	}
	elapsed := now.Sub(t0)
	if elapsed > params.MaxTransmitWait() {
		t.Fatalf("elapsed %v exceeded MAX_TRANSMIT_WAIT %v", elapsed, params.MaxTransmitWait())
	}
}

func TestBEBOCancelBeforeResolutionStopsRetransmitButStaysOutstanding(t *testing.T) {
	params := DefaultTransmissionParameters()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(3))
	expiration := t0.Add(params.ExchangeLifetime())
	b := NewBEBOState(t0, params, rng, expiration)

	b.Cancel()
	action := b.Fire(b.NextFireTime)
	if action.Retransmit || action.Resolved {
		t.Fatalf("expected no action after cancellation, got %+v", action)
	}
	if !b.Outstanding(b.NextFireTime) {
		t.Fatalf("expected a cancelled-but-unresolved BEBO to remain outstanding until expiration")
	}
}

func TestBEBOReplyAfterResolutionIsNoop(t *testing.T) {
	params := DefaultTransmissionParameters()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(4))
	b := NewBEBOState(t0, params, rng, t0.Add(time.Hour))

	b.OnReply(Acknowledgement)
	b.OnReply(Reset) // should not flip a resolved transmission to Failed
	if b.Resolution != Succeeded {
		t.Fatalf("expected resolution to stick at Succeeded, got %v", b.Resolution)
	}
}
