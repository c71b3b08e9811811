package coap

import "testing"

func TestEndpointEqual(t *testing.T) {
	a := NewEndpoint("203.0.113.1", 5683, "")
	b := NewEndpoint("203.0.113.1", 5683, "")
	c := NewEndpoint("203.0.113.1", 5684, "")
	if !a.Equal(b) {
		t.Fatalf("expected equal endpoints")
	}
	if a.Equal(c) {
		t.Fatalf("expected different ports to be unequal")
	}
}

func TestEndpointString(t *testing.T) {
	e := NewEndpoint("203.0.113.1", 5683, "")
	if e.String() != "203.0.113.1:5683" {
		t.Fatalf("got %q", e.String())
	}
	secure := NewEndpoint("203.0.113.1", 5683, "epoch1")
	if secure.String() != "203.0.113.1:5683#epoch1" {
		t.Fatalf("got %q", secure.String())
	}
}
