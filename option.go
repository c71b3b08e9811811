package coap

import (
	"fmt"
	"strconv"
	"sync"
)

// OptionID identifies an option in a message. The low bits of the
// number itself carry meaning (RFC7252 section 5.4.6):
//
//	critical     = number & 1 == 1
//	unsafe       = number & 2 == 2
//	no_cache_key = number & 0x1e == 0x1c
type OptionID uint32

func (o OptionID) String() string {
	if name, ok := optionIDNames[o]; ok {
		return name
	}
	return "Option(" + strconv.FormatInt(int64(o), 10) + ")"
}

// IsCritical reports whether an option number is critical: an
// endpoint that does not recognize it must reject the message.
func IsCritical(number OptionID) bool {
	return number&1 == 1
}

// IsUnsafe reports whether an option number is unsafe to forward
// across a proxy that does not recognize it.
func IsUnsafe(number OptionID) bool {
	return number&2 == 2
}

// IsNoCacheKey reports whether an option number carries the NoCacheKey
// bit pattern: a safe-to-forward option (unsafe bit clear) that is
// excluded from a cache key.
func IsNoCacheKey(number OptionID) bool {
	return number&0x1e == 0x1c
}

// Format is the wire representation of an option's value.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatEmpty
	FormatOpaque
	FormatUint
	FormatString
)

func (f Format) String() string {
	switch f {
	case FormatEmpty:
		return "empty"
	case FormatOpaque:
		return "opaque"
	case FormatUint:
		return "uint"
	case FormatString:
		return "string"
	default:
		return "unknown"
	}
}

// OptionDescriptor is the registry entry for one option number: its
// format, packed-length bounds, multiplicity, and request/response
// applicability. For a number with no registry entry, Lookup returns
// the descriptor built by unrecognizedDescriptor, with Recognized false.
type OptionDescriptor struct {
	Number      OptionID
	Name        string
	Format      Format
	MinLen      int
	MaxLen      int
	Repeatable  bool
	ValidInReq  bool
	ValidInResp bool
	Recognized  bool
}

// unrecognizedDescriptor is synthesized by lookup for option numbers
// with no registry entry. Its bounds are permissive (length checks
// are meaningless for a format we don't understand); only the
// critical/unsafe bits, derived from the number itself, matter for
// such an option.
func unrecognizedDescriptor(number OptionID) OptionDescriptor {
	return OptionDescriptor{
		Number:      number,
		Name:        number.String(),
		Format:      FormatUnknown,
		MinLen:      0,
		MaxLen:      -1,
		Repeatable:  true,
		ValidInReq:  true,
		ValidInResp: true,
		Recognized:  false,
	}
}

// Registry is an append-only table of option descriptors keyed by
// number. It is safe to register additional entries (e.g. for
// block-transfer or a vendor extension) before the message layer
// starts processing traffic; mutating it concurrently with traffic is
// undefined, per the single-threaded event-loop model.
type Registry struct {
	mu      sync.RWMutex
	entries map[OptionID]OptionDescriptor
}

// NewRegistry returns an empty registry. Use NewBaseRegistry for one
// preloaded with the base CoAP option table.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[OptionID]OptionDescriptor)}
}

// Register adds d to the registry. A second registration of the same
// number with an identical descriptor is a no-op; registering a
// different descriptor for an already-registered number fails with a
// RegistryConflict error, since option semantics can only be declared
// once per number.
func (r *Registry) Register(d OptionDescriptor) error {
	d.Recognized = true
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[d.Number]; ok {
		if existing == d {
			return nil
		}
		return newRegistryConflictError(d.Number, "number already registered as %s, cannot redeclare as %s", existing.Format, d.Format)
	}
	r.entries[d.Number] = d
	return nil
}

// Lookup returns the descriptor for number, or a synthesized
// unrecognized descriptor if none was registered.
func (r *Registry) Lookup(number OptionID) OptionDescriptor {
	r.mu.RLock()
	d, ok := r.entries[number]
	r.mu.RUnlock()
	if !ok {
		return unrecognizedDescriptor(number)
	}
	return d
}

// Base CoAP option numbers (RFC7252 section 5.10).
const (
	IfMatch       OptionID = 1
	URIHost       OptionID = 3
	ETag          OptionID = 4
	IfNoneMatch   OptionID = 5
	URIPort       OptionID = 7
	LocationPath  OptionID = 8
	URIPath       OptionID = 11
	ContentFormat OptionID = 12
	MaxAge        OptionID = 14
	URIQuery      OptionID = 15
	Accept        OptionID = 17
	LocationQuery OptionID = 20
	ProxyURI      OptionID = 35
	ProxyScheme   OptionID = 39
	Size1         OptionID = 60
)

var optionIDNames = map[OptionID]string{
	IfMatch:       "If-Match",
	URIHost:       "Uri-Host",
	ETag:          "ETag",
	IfNoneMatch:   "If-None-Match",
	URIPort:       "Uri-Port",
	LocationPath:  "Location-Path",
	URIPath:       "Uri-Path",
	ContentFormat: "Content-Format",
	MaxAge:        "Max-Age",
	URIQuery:      "Uri-Query",
	Accept:        "Accept",
	LocationQuery: "Location-Query",
	ProxyURI:      "Proxy-Uri",
	ProxyScheme:   "Proxy-Scheme",
	Size1:         "Size1",
}

// NewBaseRegistry returns a registry preloaded with the base-CoAP
// option table from spec section 4.1. Request/response applicability:
// Uri-*, Proxy-*, If-Match, If-None-Match and Accept are valid only in
// requests; Location-* and Max-Age only in responses; ETag,
// Content-Format and Size1 in both.
func NewBaseRegistry() *Registry {
	r := NewRegistry()
	base := []OptionDescriptor{
		{Number: IfMatch, Name: "If-Match", Format: FormatOpaque, MinLen: 0, MaxLen: 8, Repeatable: true, ValidInReq: true, ValidInResp: false},
		{Number: URIHost, Name: "Uri-Host", Format: FormatString, MinLen: 1, MaxLen: 255, Repeatable: false, ValidInReq: true, ValidInResp: false},
		{Number: ETag, Name: "ETag", Format: FormatOpaque, MinLen: 1, MaxLen: 8, Repeatable: true, ValidInReq: true, ValidInResp: true},
		{Number: IfNoneMatch, Name: "If-None-Match", Format: FormatEmpty, MinLen: 0, MaxLen: 0, Repeatable: false, ValidInReq: true, ValidInResp: false},
		{Number: URIPort, Name: "Uri-Port", Format: FormatUint, MinLen: 0, MaxLen: 2, Repeatable: false, ValidInReq: true, ValidInResp: false},
		{Number: LocationPath, Name: "Location-Path", Format: FormatString, MinLen: 0, MaxLen: 255, Repeatable: true, ValidInReq: false, ValidInResp: true},
		{Number: URIPath, Name: "Uri-Path", Format: FormatString, MinLen: 0, MaxLen: 255, Repeatable: true, ValidInReq: true, ValidInResp: false},
		{Number: ContentFormat, Name: "Content-Format", Format: FormatUint, MinLen: 0, MaxLen: 2, Repeatable: false, ValidInReq: true, ValidInResp: true},
		{Number: MaxAge, Name: "Max-Age", Format: FormatUint, MinLen: 0, MaxLen: 4, Repeatable: false, ValidInReq: false, ValidInResp: true},
		{Number: URIQuery, Name: "Uri-Query", Format: FormatString, MinLen: 0, MaxLen: 255, Repeatable: true, ValidInReq: true, ValidInResp: false},
		{Number: Accept, Name: "Accept", Format: FormatUint, MinLen: 0, MaxLen: 2, Repeatable: false, ValidInReq: true, ValidInResp: false},
		{Number: LocationQuery, Name: "Location-Query", Format: FormatString, MinLen: 0, MaxLen: 255, Repeatable: true, ValidInReq: false, ValidInResp: true},
		{Number: ProxyURI, Name: "Proxy-Uri", Format: FormatString, MinLen: 1, MaxLen: 1034, Repeatable: false, ValidInReq: true, ValidInResp: false},
		{Number: ProxyScheme, Name: "Proxy-Scheme", Format: FormatString, MinLen: 1, MaxLen: 255, Repeatable: false, ValidInReq: true, ValidInResp: false},
		{Number: Size1, Name: "Size1", Format: FormatUint, MinLen: 0, MaxLen: 4, Repeatable: false, ValidInReq: true, ValidInResp: true},
	}
	for _, d := range base {
		if err := r.Register(d); err != nil {
			// The base table is constant and self-consistent; a
			// conflict here is a programming error, not a runtime
			// condition callers can react to.
			panic(fmt.Errorf("coap: base registry self-conflict: %w", err))
		}
	}
	return r
}

// MediaType specifies the content type of a message, the decoded
// value of a Content-Format or Accept option.
type MediaType uint16

const (
	TextPlain     MediaType = 0
	AppLinkFormat MediaType = 40
	AppXML        MediaType = 41
	AppOctets     MediaType = 42
	AppExi        MediaType = 47
	AppJSON       MediaType = 50
)
