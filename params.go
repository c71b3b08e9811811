package coap

import "time"

// TransmissionParameters is the named constant set of spec section 6,
// passed explicitly into each EndpointState at construction (never a
// process-wide singleton mutated mid-event, per spec section 5 and
// section 9's "Global parameters" design note). It is safe to read
// concurrently with event-loop steps; mutate only between steps.
type TransmissionParameters struct {
	AckTimeout      time.Duration
	AckRandomFactor float64
	MaxRetransmit   int
	NStart          int
	DefaultLeisure  time.Duration
	ProbingRate     float64 // bytes per second

	// maxLatency is RFC7252's fixed MAX_LATENCY (assumed network
	// transit time); it feeds the derived constants below and is not
	// independently configurable, matching the RFC.
	maxLatency time.Duration
}

// DefaultTransmissionParameters returns the RFC7252 section 4.8
// default parameter set.
func DefaultTransmissionParameters() *TransmissionParameters {
	return &TransmissionParameters{
		AckTimeout:      2 * time.Second,
		AckRandomFactor: 1.5,
		MaxRetransmit:   4,
		NStart:          1,
		DefaultLeisure:  5 * time.Second,
		ProbingRate:     1, // 1 B/s
		maxLatency:      100 * time.Second,
	}
}

// Validate enforces the protocol-allowed ranges and the BEBO span
// bound of spec section 3: the total back-off span must not exceed
// MAX_TRANSMIT_WAIT (trivially true here since MAX_TRANSMIT_WAIT is
// derived from the same span, but kept explicit since callers may
// construct a TransmissionParameters by hand rather than through
// DefaultTransmissionParameters).
func (p *TransmissionParameters) Validate() error {
	if p.AckTimeout <= 0 {
		return newMessageFormatError("ACK_TIMEOUT must be positive")
	}
	if p.AckRandomFactor < 1.0 {
		return newMessageFormatError("ACK_RANDOM_FACTOR must be >= 1.0")
	}
	if p.MaxRetransmit < 0 {
		return newMessageFormatError("MAX_RETRANSMIT must be >= 0")
	}
	if p.NStart < 1 {
		return newMessageFormatError("NSTART must be >= 1")
	}
	if p.ProbingRate <= 0 {
		return newMessageFormatError("PROBING_RATE must be positive")
	}
	span := p.MaxTransmitSpan()
	wait := p.MaxTransmitWait()
	if span > wait {
		return newMessageFormatError("MAX_TRANSMIT_SPAN exceeds MAX_TRANSMIT_WAIT")
	}
	return nil
}

// MaxTransmitSpan is the maximum time from first transmission to the
// last allowed retransmission.
func (p *TransmissionParameters) MaxTransmitSpan() time.Duration {
	factor := float64(int64(1)<<uint(p.MaxRetransmit)) - 1
	return scaleDuration(p.AckTimeout, factor*p.AckRandomFactor)
}

// MaxTransmitWait is the maximum time from first transmission until a
// sender can give up on ever receiving an ACK or RST.
func (p *TransmissionParameters) MaxTransmitWait() time.Duration {
	factor := float64(int64(1)<<uint(p.MaxRetransmit+1)) - 1
	return scaleDuration(p.AckTimeout, factor*p.AckRandomFactor)
}

// ExchangeLifetime is how long a CON request's MID and dedup entry
// remain live after first transmission.
func (p *TransmissionParameters) ExchangeLifetime() time.Duration {
	return p.MaxTransmitSpan() + 2*p.maxLatency + p.AckTimeout
}

// NonLifetime is how long a NON request's MID and dedup entry remain
// live after first transmission.
func (p *TransmissionParameters) NonLifetime() time.Duration {
	return p.MaxTransmitSpan() + p.maxLatency
}

// NonRequestLifetime is the lifetime for a non-request NON message
// (e.g. a NON response), or for an ACK/RST reply cache entry:
// ACK_TIMEOUT * ACK_RANDOM_FACTOR, per spec section 4.4/4.5.
func (p *TransmissionParameters) NonRequestLifetime() time.Duration {
	return scaleDuration(p.AckTimeout, p.AckRandomFactor)
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
