package coap

import "testing"

func TestDefaultTransmissionParametersValid(t *testing.T) {
	p := DefaultTransmissionParameters()
	if err := p.Validate(); err != nil {
		t.Fatalf("default parameters should validate, got %v", err)
	}
}

func TestDerivedConstantsOrdering(t *testing.T) {
	p := DefaultTransmissionParameters()
	if p.MaxTransmitSpan() > p.MaxTransmitWait() {
		t.Fatalf("MAX_TRANSMIT_SPAN (%v) exceeds MAX_TRANSMIT_WAIT (%v)", p.MaxTransmitSpan(), p.MaxTransmitWait())
	}
	if p.ExchangeLifetime() <= p.MaxTransmitSpan() {
		t.Fatalf("EXCHANGE_LIFETIME should exceed MAX_TRANSMIT_SPAN")
	}
	if p.NonLifetime() <= 0 {
		t.Fatalf("NON_LIFETIME should be positive")
	}
}

func TestValidateRejectsBadParameters(t *testing.T) {
	cases := []func(*TransmissionParameters){
		func(p *TransmissionParameters) { p.AckTimeout = 0 },
		func(p *TransmissionParameters) { p.AckRandomFactor = 0.5 },
		func(p *TransmissionParameters) { p.MaxRetransmit = -1 },
		func(p *TransmissionParameters) { p.NStart = 0 },
		func(p *TransmissionParameters) { p.ProbingRate = 0 },
	}
	for i, mutate := range cases {
		p := DefaultTransmissionParameters()
		mutate(p)
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
