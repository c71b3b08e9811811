package coap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Option is one option instance: a number plus a value whose Go type
// is dictated by the number's registered format. Value holds string
// for FormatString, []byte for FormatOpaque, uint32 for FormatUint
// (MediaType for a decoded Content-Format or Accept option), and nil
// for FormatEmpty.
type Option struct {
	Number OptionID
	Value  interface{}
}

// NewEmptyOption builds a zero-length option.
func NewEmptyOption(number OptionID) Option { return Option{Number: number} }

// NewOpaqueOption builds an opaque-valued option.
func NewOpaqueOption(number OptionID, value []byte) Option {
	return Option{Number: number, Value: value}
}

// NewUintOption builds a uint-valued option.
func NewUintOption(number OptionID, value uint32) Option {
	return Option{Number: number, Value: value}
}

// NewStringOption builds a string-valued option.
func NewStringOption(number OptionID, value string) Option {
	return Option{Number: number, Value: value}
}

// encodeUint packs v in the minimum number of big-endian bytes, with
// no leading zero byte; 0 packs to zero bytes (the uint-minimality
// property).
func encodeUint(v uint32) []byte {
	switch {
	case v == 0:
		return nil
	case v < 1<<8:
		return []byte{byte(v)}
	case v < 1<<16:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v))
		return b
	case v < 1<<24:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return b[1:]
	default:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return b
	}
}

// decodeUint unpacks a big-endian uint of up to 4 bytes.
func decodeUint(b []byte) uint32 {
	var tmp [4]byte
	copy(tmp[4-len(b):], b)
	return binary.BigEndian.Uint32(tmp[:])
}

// bytes returns the wire encoding of the option's value.
func (o Option) bytes() []byte {
	switch v := o.Value.(type) {
	case nil:
		return nil
	case string:
		return []byte(v)
	case []byte:
		return v
	case MediaType:
		return encodeUint(uint32(v))
	case uint32:
		return encodeUint(v)
	case uint:
		return encodeUint(uint32(v))
	case int:
		return encodeUint(uint32(v))
	default:
		panic(fmt.Sprintf("coap: invalid value type for option %v: %T", o.Number, o.Value))
	}
}

// decodeValue interprets raw per d's format, producing the typed
// Value an Option for this number should carry.
func decodeValue(d OptionDescriptor, raw []byte) interface{} {
	switch d.Format {
	case FormatUint:
		v := decodeUint(raw)
		if d.Number == ContentFormat || d.Number == Accept {
			return MediaType(v)
		}
		return v
	case FormatString:
		return string(raw)
	case FormatOpaque:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out
	case FormatEmpty:
		return nil
	default:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out
	}
}

// Options is an ordered sequence of Option, logically a multiset over
// Number. sortableOptions implements the stable ascending sort by
// Number that canonicalizes a sequence for wire encoding.
type Options []Option

type sortableOptions Options

func (o sortableOptions) Len() int           { return len(o) }
func (o sortableOptions) Less(i, j int) bool { return o[i].Number < o[j].Number }
func (o sortableOptions) Swap(i, j int)      { o[i], o[j] = o[j], o[i] }

// SortOptions returns a new Options slice in canonical order: stable
// ascending by Number, original relative order preserved among equal
// numbers. Repeated application is idempotent.
func SortOptions(opts Options) Options {
	out := make(Options, len(opts))
	copy(out, opts)
	sort.Stable(sortableOptions(out))
	return out
}

const (
	extOptByteCode   = 13
	extOptByteAddend = 13
	extOptWordCode   = 14
	extOptWordAddend = 269
	extOptReserved   = 15
)

// splitExtended returns the 4-bit nibble value to write for n (delta
// or length) and the value of its extension field, per the 4+4
// nibble packing of RFC7252 section 3.1.
func splitExtended(n int) (nibble, ext int) {
	switch {
	case n >= extOptWordAddend:
		return extOptWordCode, n - extOptWordAddend
	case n >= extOptByteAddend:
		return extOptByteCode, n - extOptByteAddend
	default:
		return n, 0
	}
}

func writeExtended(buf *bytes.Buffer, nibble, ext int) {
	switch nibble {
	case extOptByteCode:
		buf.WriteByte(byte(ext))
	case extOptWordCode:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(ext))
		buf.Write(tmp[:])
	}
}

// EncodeOptions writes opts (assumed already canonical, see
// SortOptions) to buf using delta+length packing, one option header
// and value per option.
func EncodeOptions(buf *bytes.Buffer, opts Options) {
	prev := OptionID(0)
	for _, o := range opts {
		val := o.bytes()
		delta := int(o.Number) - int(prev)
		dn, dx := splitExtended(delta)
		ln, lx := splitExtended(len(val))

		buf.WriteByte(byte(dn<<4) | byte(ln))
		writeExtended(buf, dn, dx)
		writeExtended(buf, ln, lx)
		buf.Write(val)

		prev = o.Number
	}
}

// rawOption is a decoded-but-not-yet-validated option: the number and
// length are trustworthy, but the value has not been checked against
// its registered format/bounds.
type rawOption struct {
	Number OptionID
	Raw    []byte
}

// DecodeOptions parses the option sequence starting at the front of
// b, stopping at a 0xFF payload marker or end of input. It returns
// the raw options, the number of bytes consumed (NOT including a
// consumed 0xFF marker), and an error of kind OptionDecodeError on a
// reserved nibble or truncated buffer. maxOptionLen bounds an
// individual option's length field (0 means unbounded); exceeding it
// is also an OptionDecodeError.
func DecodeOptions(b []byte, maxOptionLen int) ([]rawOption, int, error) {
	var out []rawOption
	prev := OptionID(0)
	pos := 0

	errTruncated := fmt.Errorf("truncated")

	readExtended := func(nibble int) (int, int, error) {
		switch nibble {
		case extOptByteCode:
			if len(b)-pos < 1 {
				return 0, 0, errTruncated
			}
			return int(b[pos]) + extOptByteAddend, 1, nil
		case extOptWordCode:
			if len(b)-pos < 2 {
				return 0, 0, errTruncated
			}
			return int(binary.BigEndian.Uint16(b[pos:pos+2])) + extOptWordAddend, 2, nil
		default:
			return nibble, 0, nil
		}
	}

	for pos < len(b) {
		if b[pos] == 0xff {
			return out, pos, nil
		}

		deltaNibble := int(b[pos] >> 4)
		lengthNibble := int(b[pos] & 0x0f)
		if deltaNibble == extOptReserved || lengthNibble == extOptReserved {
			return nil, 0, newOptionDecodeError("reserved nibble 15 in option header at offset %d", pos)
		}
		pos++

		delta, adv, errFlag := readExtended(deltaNibble)
		if errFlag != nil {
			return nil, 0, newOptionDecodeError("truncated extended delta at offset %d", pos)
		}
		pos += adv

		length, adv, errFlag := readExtended(lengthNibble)
		if errFlag != nil {
			return nil, 0, newOptionDecodeError("truncated extended length at offset %d", pos)
		}
		pos += adv

		if maxOptionLen > 0 && length > maxOptionLen {
			return nil, 0, newOptionDecodeError("option length %d exceeds maximum %d", length, maxOptionLen)
		}
		if len(b)-pos < length {
			return nil, 0, newOptionDecodeError("truncated option value at offset %d", pos)
		}

		number := prev + OptionID(delta)
		raw := make([]byte, length)
		copy(raw, b[pos:pos+length])
		pos += length

		out = append(out, rawOption{Number: number, Raw: raw})
		prev = number
	}
	return out, pos, nil
}

// ValidateOptions checks each raw option against reg and the parent
// message's code class (isRequest distinguishes request from
// response applicability), returning the typed Options on success.
//
// On the first violation it returns as much of the typed sequence as
// was already validated, plus an error identifying the offending
// option -- this lets the message codec still surface partial results
// per spec section 4.3.
func ValidateOptions(reg *Registry, raws []rawOption, isRequest bool) (Options, error) {
	seen := make(map[OptionID]int, len(raws))
	out := make(Options, 0, len(raws))

	for _, ro := range raws {
		d := reg.Lookup(ro.Number)

		if !d.Recognized {
			if IsCritical(ro.Number) {
				return out, newUnrecognizedCriticalOptionError(ro.Number)
			}
			// Unrecognized elective options are silently ignored
			// (RFC7252 section 5.4.1), not added to the result.
			continue
		}

		if len(ro.Raw) < d.MinLen || (d.MaxLen >= 0 && len(ro.Raw) > d.MaxLen) {
			return out, newOptionLengthError(ro.Number, "length %d outside [%d,%d]", len(ro.Raw), d.MinLen, d.MaxLen)
		}

		if isRequest && !d.ValidInReq {
			return out, newInvalidOptionError(ro.Number, "not valid in a request")
		}
		if !isRequest && !d.ValidInResp {
			return out, newInvalidOptionError(ro.Number, "not valid in a response")
		}

		seen[ro.Number]++
		if seen[ro.Number] > 1 && !d.Repeatable {
			return out, newInvalidMultipleOptionError(ro.Number)
		}

		out = append(out, Option{Number: ro.Number, Value: decodeValue(d, ro.Raw)})
	}
	return out, nil
}

// ReplaceUnacceptableOptions strips or repairs options whose values
// fall outside their registered format bounds but whose number is
// known, per spec section 4.2. Unrecognized and in-bounds options are
// kept as they are. An overlong opaque or string option is truncated
// to MaxLen. An elective option shorter than MinLen is dropped. Any
// other out-of-bounds option (a critical option shorter than MinLen,
// or an overlong uint or empty option) is left in place unchanged for
// the caller to reject via ValidateOptions.
func ReplaceUnacceptableOptions(reg *Registry, opts Options) Options {
	out := make(Options, 0, len(opts))
	for _, o := range opts {
		d := reg.Lookup(o.Number)
		if !d.Recognized {
			out = append(out, o)
			continue
		}
		raw := o.bytes()
		switch {
		case len(raw) >= d.MinLen && (d.MaxLen < 0 || len(raw) <= d.MaxLen):
			out = append(out, o)
		case len(raw) > d.MaxLen && d.MaxLen >= 0 && (d.Format == FormatOpaque || d.Format == FormatString):
			out = append(out, Option{Number: o.Number, Value: decodeValue(d, raw[:d.MaxLen])})
		case len(raw) < d.MinLen && !IsCritical(o.Number):
			// elective and unrepairable: drop it.
		default:
			// no well-defined repair (critical and too short, or an
			// overlong uint/empty value): leave it for ValidateOptions
			// to reject explicitly rather than silently dropping it.
			out = append(out, o)
		}
	}
	return out
}
