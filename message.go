// Package coap implements the message-layer core of a CoAP
// (Constrained Application Protocol, RFC7252) endpoint: the codec for
// datagrams and options, and the per-endpoint transmission/
// deduplication/congestion state machine above it. The transport is an
// injected collaborator (see transport.go); udptransport.go provides a
// plain UDP one. It does not implement DTLS, a resource server, or
// block-transfer/observe extensions.
package coap

import (
	"bytes"
	"encoding/binary"
)

// Type is the 2-bit CoAP message type.
type Type uint8

const (
	Confirmable     Type = 0
	NonConfirmable  Type = 1
	Acknowledgement Type = 2
	Reset           Type = 3
)

var typeNames = map[Type]string{
	Confirmable:     "CON",
	NonConfirmable:  "NON",
	Acknowledgement: "ACK",
	Reset:           "RST",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "Unknown"
}

// Code is a CoAP message code: 3 bits of class, 5 bits of detail,
// rendered "c.dd". Code 0 (0.00) is the empty message.
type Code uint8

// NewCode composes a code from its class (0..7) and detail (0..31).
func NewCode(class, detail uint8) Code {
	return Code((class << 5) | (detail & 0x1f))
}

func (c Code) Class() uint8  { return uint8(c) >> 5 }
func (c Code) Detail() uint8 { return uint8(c) & 0x1f }

func (c Code) String() string {
	class, detail := c.Class(), c.Detail()
	b := [4]byte{'0' + class, '.', '0' + detail/10, '0' + detail%10}
	return string(b[:])
}

// CodeEmpty is the code of an empty message.
const CodeEmpty Code = 0

// Request method codes (class 0, detail 1..31).
const (
	GET    Code = 1
	POST   Code = 2
	PUT    Code = 3
	DELETE Code = 4
)

// Response codes in common use (class 2/4/5).
const (
	Created               Code = 65
	Deleted               Code = 66
	Valid                 Code = 67
	Changed               Code = 68
	Content               Code = 69
	BadRequest            Code = 128
	Unauthorized          Code = 129
	BadOption             Code = 130
	Forbidden             Code = 131
	NotFound              Code = 132
	MethodNotAllowed      Code = 133
	NotAcceptable         Code = 134
	PreconditionFailed    Code = 140
	RequestEntityTooLarge Code = 141
	UnsupportedMediaType  Code = 143
	InternalServerError   Code = 160
	NotImplemented        Code = 161
	BadGateway            Code = 162
	ServiceUnavailable    Code = 163
	GatewayTimeout        Code = 164
	ProxyingNotSupported  Code = 165
)

// classUndefined reports whether class is one of the ranges spec
// section 3 declares undefined: 0.00 is empty, the other 0.xx codes
// are requests (see IsRequest), 2/4/5.xx are responses, 3/6/7 are
// reserved and must not appear. Class 1 is not rejected here.
func classUndefined(class uint8) bool {
	switch class {
	case 3, 6, 7:
		return true
	default:
		return false
	}
}

// Message is an immutable (once transmitted) CoAP datagram: header
// fields, token, an ordered option sequence, and payload.
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	Options   Options
	Payload   []byte
}

// IsRequest reports whether the message carries a request code: class
// 0, excluding the empty message (0.00).
func (m *Message) IsRequest() bool { return m.Code.Class() == 0 && m.Code != CodeEmpty }

// IsEmpty reports whether the message is the empty message (code
// 0.00): no token, no options, no payload.
func (m *Message) IsEmpty() bool { return m.Code == CodeEmpty }

// Validate checks the invariants of spec section 3 against an
// in-memory message, independent of wire encoding.
func (m *Message) Validate() error {
	class := m.Code.Class()
	if classUndefined(class) {
		return newMessageFormatError("code class %d is undefined", class)
	}
	if len(m.Token) > 8 {
		return newMessageFormatError("token length %d exceeds 8", len(m.Token))
	}

	if m.Code == CodeEmpty {
		if len(m.Token) != 0 || len(m.Options) != 0 || len(m.Payload) != 0 {
			return newMessageFormatError("empty message must have no token, options, or payload")
		}
	}

	switch m.Type {
	case Reset:
		if m.Code != CodeEmpty {
			return newMessageFormatError("RST must be empty, got code %s", m.Code)
		}
	case Acknowledgement:
		if m.Code != CodeEmpty && class != 2 && class != 4 && class != 5 {
			return newMessageFormatError("ACK must be empty or carry a response code, got %s", m.Code)
		}
	}
	return nil
}

// Encode validates m and produces its wire form: the 4-octet header,
// token, canonically-ordered options, and payload (preceded by the
// 0xFF marker when non-empty).
func (m *Message) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(4 + len(m.Token) + len(m.Payload) + 16)

	buf.WriteByte((1 << 6) | (uint8(m.Type) << 4) | uint8(len(m.Token)&0xf))
	buf.WriteByte(byte(m.Code))
	var mid [2]byte
	binary.BigEndian.PutUint16(mid[:], m.MessageID)
	buf.Write(mid[:])
	buf.Write(m.Token)

	EncodeOptions(&buf, SortOptions(m.Options))

	if len(m.Payload) > 0 {
		buf.WriteByte(0xff)
		buf.Write(m.Payload)
	}

	return buf.Bytes(), nil
}

// Decode parses data into a Message, validating options against reg.
//
// On a header-level failure (bad version, bad TKL, truncation, a
// payload marker with no following bytes) it returns (nil, err): there
// is nothing trustworthy to salvage.
//
// On an option-validation failure (unrecognized critical option,
// length/multiplicity/applicability violation) it returns a non-nil
// Message carrying Type, MessageID and Token -- enough for the caller
// to emit an RST -- alongside the error, per spec section 4.3.
func Decode(reg *Registry, data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, newMessageFormatError("datagram shorter than 4 octets")
	}
	if data[0]>>6 != 1 {
		return nil, newMessageFormatError("unsupported version %d", data[0]>>6)
	}

	m := &Message{
		Type:      Type((data[0] >> 4) & 0x3),
		Code:      Code(data[1]),
		MessageID: binary.BigEndian.Uint16(data[2:4]),
	}

	tkl := int(data[0] & 0xf)
	if tkl > 8 {
		return nil, newMessageFormatError("token length %d outside 0..8", tkl)
	}
	if len(data) < 4+tkl {
		return nil, newMessageFormatError("datagram truncated in token")
	}
	if tkl > 0 {
		m.Token = make([]byte, tkl)
		copy(m.Token, data[4:4+tkl])
	}

	rest := data[4+tkl:]
	raws, consumed, err := DecodeOptions(rest, 0)
	if err != nil {
		// A malformed option header is a message-format problem, not a
		// validation problem: there is no reliable option boundary to
		// resume from, so nothing is salvageable beyond the header.
		return nil, err
	}
	rest = rest[consumed:]

	if len(rest) > 0 {
		if rest[0] != 0xff {
			return nil, newMessageFormatError("expected payload marker, found 0x%02x", rest[0])
		}
		rest = rest[1:]
		if len(rest) == 0 {
			return nil, newMessageFormatError("payload marker present with no payload")
		}
		m.Payload = make([]byte, len(rest))
		copy(m.Payload, rest)
	}

	if m.Code == CodeEmpty && (tkl != 0 || len(raws) != 0 || len(m.Payload) != 0) {
		return nil, newMessageFormatError("empty-code message carries token, options, or payload")
	}

	opts, err := ValidateOptions(reg, raws, m.IsRequest())
	if err != nil {
		m.Options = opts
		return m, err
	}
	m.Options = opts

	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}
