package coap

import "fmt"

// Endpoint is the canonical identity of a CoAP peer: an IP literal, a
// UDP port, and an opaque security-context identifier (DTLS epoch,
// PSK identity hint, or similar -- the core does not interpret it,
// only uses it for equality). Two endpoints with equal tuples are the
// same endpoint and share one EndpointState.
type Endpoint struct {
	IPLiteral         string
	Port              uint16
	SecurityContextID string
}

// NewEndpoint builds an Endpoint. securityContextID may be empty for
// an unsecured (plain UDP) peer.
func NewEndpoint(ipLiteral string, port uint16, securityContextID string) Endpoint {
	return Endpoint{IPLiteral: ipLiteral, Port: port, SecurityContextID: securityContextID}
}

// Equal reports whether e and other identify the same peer.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.IPLiteral == other.IPLiteral && e.Port == other.Port && e.SecurityContextID == other.SecurityContextID
}

func (e Endpoint) String() string {
	if e.SecurityContextID == "" {
		return fmt.Sprintf("%s:%d", e.IPLiteral, e.Port)
	}
	return fmt.Sprintf("%s:%d#%s", e.IPLiteral, e.Port, e.SecurityContextID)
}
