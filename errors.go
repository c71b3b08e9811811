package coap

import "fmt"

// ErrorKind classifies the errors this package can return, per the
// error taxonomy of the message layer. It is not a type per se --
// callers compare with errors.Is against the sentinel Err* values
// below, never by switching on the concrete *Error type.
type ErrorKind int

const (
	// KindMessageFormat: malformed datagram bytes (wrong version,
	// bad TKL, truncation, stray payload marker).
	KindMessageFormat ErrorKind = iota + 1
	// KindOptionDecode: the option delta/length header could not be
	// parsed (reserved nibble, truncated extension, truncated value).
	KindOptionDecode
	// KindOptionLength: a decoded option's length falls outside its
	// registered format bounds.
	KindOptionLength
	// KindUnrecognizedCriticalOption: a critical option number has no
	// registry entry.
	KindUnrecognizedCriticalOption
	// KindInvalidOption: an option is present where its request/
	// response applicability forbids it.
	KindInvalidOption
	// KindInvalidMultipleOption: a non-repeatable option occurs more
	// than once.
	KindInvalidMultipleOption
	// KindRegistryConflict: register() was called with a descriptor
	// incompatible with an existing entry for the same number.
	KindRegistryConflict
	// KindReplyMessage: an ACK/RST's message ID matches no
	// outstanding sent record.
	KindReplyMessage
	// KindTransport: the injected transport reported a send failure.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindMessageFormat:
		return "MessageFormatError"
	case KindOptionDecode:
		return "OptionDecodeError"
	case KindOptionLength:
		return "OptionLengthError"
	case KindUnrecognizedCriticalOption:
		return "UnrecognizedCriticalOption"
	case KindInvalidOption:
		return "InvalidOption"
	case KindInvalidMultipleOption:
		return "InvalidMultipleOption"
	case KindRegistryConflict:
		return "RegistryConflict"
	case KindReplyMessage:
		return "ReplyMessageError"
	case KindTransport:
		return "TransportError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the concrete error type returned from every fallible entry
// point in this package. Option carries the offending option number
// when one is known (length, unrecognized-critical, applicability,
// multiplicity and registry errors), and is zero otherwise, including
// for OptionDecodeError.
type Error struct {
	Kind   ErrorKind
	Option OptionID
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Option != 0 {
		return fmt.Sprintf("coap: %s: option %d: %s", e.Kind, e.Option, e.Msg)
	}
	return fmt.Sprintf("coap: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrOptionLength) etc. match by kind alone,
// so callers never need the concrete type to classify a failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is comparisons. Construct actual errors
// with the newXxx helpers below, which attach context.
var (
	ErrMessageFormat               = &Error{Kind: KindMessageFormat}
	ErrOptionDecode                = &Error{Kind: KindOptionDecode}
	ErrOptionLength                = &Error{Kind: KindOptionLength}
	ErrUnrecognizedCriticalOption  = &Error{Kind: KindUnrecognizedCriticalOption}
	ErrInvalidOption               = &Error{Kind: KindInvalidOption}
	ErrInvalidMultipleOption       = &Error{Kind: KindInvalidMultipleOption}
	ErrRegistryConflict            = &Error{Kind: KindRegistryConflict}
	ErrReplyMessage                = &Error{Kind: KindReplyMessage}
	ErrTransport                   = &Error{Kind: KindTransport}
)

func newMessageFormatError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindMessageFormat, Msg: fmt.Sprintf(format, args...)}
}

func newOptionDecodeError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindOptionDecode, Msg: fmt.Sprintf(format, args...)}
}

func newOptionLengthError(opt OptionID, format string, args ...interface{}) *Error {
	return &Error{Kind: KindOptionLength, Option: opt, Msg: fmt.Sprintf(format, args...)}
}

func newUnrecognizedCriticalOptionError(opt OptionID) *Error {
	return &Error{Kind: KindUnrecognizedCriticalOption, Option: opt, Msg: "critical option not recognized"}
}

func newInvalidOptionError(opt OptionID, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidOption, Option: opt, Msg: fmt.Sprintf(format, args...)}
}

func newInvalidMultipleOptionError(opt OptionID) *Error {
	return &Error{Kind: KindInvalidMultipleOption, Option: opt, Msg: "option may not repeat"}
}

func newRegistryConflictError(opt OptionID, format string, args ...interface{}) *Error {
	return &Error{Kind: KindRegistryConflict, Option: opt, Msg: fmt.Sprintf(format, args...)}
}

func newReplyMessageError(mid uint16) *Error {
	return &Error{Kind: KindReplyMessage, Msg: fmt.Sprintf("no outstanding record for mid %d", mid)}
}

func newTransportError(err error) *Error {
	return &Error{Kind: KindTransport, Msg: "transport send failed", Err: err}
}
