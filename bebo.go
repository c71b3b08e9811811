package coap

import (
	"math/rand"
	"time"
)

// Resolution is the terminal disposition of a transmission.
type Resolution int

const (
	Unresolved Resolution = iota
	Succeeded
	Failed
)

func (r Resolution) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unresolved"
	}
}

// FireAction is what the timer wheel should do in response to a BEBO
// timer firing: retransmit the original message, or conclude the
// transmission has resolved (always to Failed for a BEBO timeout).
type FireAction struct {
	Retransmit bool
	Resolved   bool
	Outcome    Resolution
}

// BEBOState is the binary-exponential-back-off retransmission
// schedule for one CON transmission (spec section 4.4). It is created
// at first transmission time -- a cancellation requested before that
// point is handled by the caller simply never creating one, per spec
// section 4.4's "if before first tx, drop entirely".
type BEBOState struct {
	FirstTxTime     time.Time
	RetxCount       int
	CurrentTimeout  time.Duration
	NextFireTime    time.Time
	ExpirationTime  time.Time
	Resolution      Resolution
	Cancelled       bool
	maxRetransmit   int
	maxTransmitWait time.Duration
}

// NewBEBOState samples tau0 uniformly from [ACK_TIMEOUT,
// ACK_TIMEOUT * ACK_RANDOM_FACTOR] and schedules the first
// retransmission timer. expiration is the dedup-cache expiration time
// for this transmission (ExchangeLifetime or MaxTransmitWait
// depending on message kind, per spec section 4.5); the record stays
// addressable for replies until then even after BEBO itself resolves.
func NewBEBOState(now time.Time, params *TransmissionParameters, rng *rand.Rand, expiration time.Time) *BEBOState {
	span := params.AckRandomFactor - 1.0
	factor := 1.0
	if span > 0 {
		factor += rng.Float64() * span
	}
	tau0 := scaleDuration(params.AckTimeout, factor)
	return &BEBOState{
		FirstTxTime:     now,
		RetxCount:       0,
		CurrentTimeout:  tau0,
		NextFireTime:    now.Add(tau0),
		ExpirationTime:  expiration,
		Resolution:      Unresolved,
		maxRetransmit:   params.MaxRetransmit,
		maxTransmitWait: params.MaxTransmitWait(),
	}
}

// Outstanding reports whether the transmission is still unresolved and
// has not yet passed its dedup-cache expiration.
func (b *BEBOState) Outstanding(now time.Time) bool {
	return b.Resolution == Unresolved && now.Before(b.ExpirationTime)
}

// Fire advances the state machine when its timer expires at now. It
// is a no-op once resolved.
func (b *BEBOState) Fire(now time.Time) FireAction {
	if b.Resolution != Unresolved {
		return FireAction{}
	}

	if b.RetxCount < b.maxRetransmit {
		if b.Cancelled {
			// Cancellation stops future retransmissions but the record
			// stays outstanding until normal expiration so a late
			// reply can still resolve it (spec section 4.4).
			return FireAction{}
		}
		b.RetxCount++
		b.CurrentTimeout *= 2
		b.NextFireTime = now.Add(b.CurrentTimeout)
		return FireAction{Retransmit: true}
	}

	deadline := b.FirstTxTime.Add(b.maxTransmitWait)
	if !now.Before(deadline) {
		b.Resolution = Failed
		return FireAction{Resolved: true, Outcome: Failed}
	}
	b.NextFireTime = deadline
	return FireAction{}
}

// OnReply cancels the retransmission timer and resolves the
// transmission: an ACK resolves it succeeded, an RST resolves it
// failed. A reply arriving after resolution is a no-op and leaves the
// existing resolution unchanged.
func (b *BEBOState) OnReply(t Type) {
	if b.Resolution != Unresolved {
		return
	}
	switch t {
	case Acknowledgement:
		b.Resolution = Succeeded
	case Reset:
		b.Resolution = Failed
	}
}

// Cancel marks the transmission cancelled by the sender. Future
// retransmissions stop; the record remains outstanding (for dedup and
// late replies) until its normal expiration. Cancelling an already
// resolved transmission is a no-op.
func (b *BEBOState) Cancel() {
	if b.Resolution != Unresolved {
		return
	}
	b.Cancelled = true
}
