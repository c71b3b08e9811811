package coap

import "testing"

func TestIsCriticalUnsafeNoCacheKey(t *testing.T) {
	cases := []struct {
		number               OptionID
		critical, unsafe, nc bool
	}{
		{IfMatch, true, false, false},       // 1
		{URIHost, true, true, false},        // 3
		{ETag, false, false, false},         // 4
		{IfNoneMatch, true, false, false},   // 5
		{URIPath, true, true, false},        // 11
		{ContentFormat, false, false, false}, // 12
		{MaxAge, false, true, false},        // 14
	}
	for _, c := range cases {
		if got := IsCritical(c.number); got != c.critical {
			t.Errorf("IsCritical(%d) = %v, want %v", c.number, got, c.critical)
		}
		if got := IsUnsafe(c.number); got != c.unsafe {
			t.Errorf("IsUnsafe(%d) = %v, want %v", c.number, got, c.unsafe)
		}
		if got := IsNoCacheKey(c.number); got != c.nc {
			t.Errorf("IsNoCacheKey(%d) = %v, want %v", c.number, got, c.nc)
		}
	}
}

func TestRegistryLookupUnrecognized(t *testing.T) {
	r := NewRegistry()
	d := r.Lookup(OptionID(9))
	if d.Recognized {
		t.Fatalf("expected unrecognized descriptor for unregistered number")
	}
}

func TestRegistryRegisterConflict(t *testing.T) {
	r := NewRegistry()
	d := OptionDescriptor{Number: 100, Name: "X", Format: FormatString, MaxLen: 10, ValidInReq: true}
	if err := r.Register(d); err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}
	// identical re-registration is a no-op
	if err := r.Register(d); err != nil {
		t.Fatalf("expected identical re-registration to succeed, got %v", err)
	}
	// conflicting re-registration fails
	conflict := d
	conflict.Format = FormatOpaque
	if err := r.Register(conflict); err == nil {
		t.Fatalf("expected conflicting registration to fail")
	} else if !errorIsKind(err, KindRegistryConflict) {
		t.Fatalf("expected RegistryConflict kind, got %v", err)
	}
}

func errorIsKind(err error, kind ErrorKind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

func TestNewBaseRegistryCoversRFCNumbers(t *testing.T) {
	r := NewBaseRegistry()
	for _, num := range []OptionID{IfMatch, URIHost, ETag, IfNoneMatch, URIPort, LocationPath, URIPath, ContentFormat, MaxAge, URIQuery, Accept, LocationQuery, ProxyURI, ProxyScheme, Size1} {
		d := r.Lookup(num)
		if !d.Recognized {
			t.Errorf("expected %s (option %d) to be recognized in base registry", num, num)
		}
	}
}

func TestOptionIDStringFallsBackToNumeric(t *testing.T) {
	got := OptionID(9999).String()
	if got != "Option(9999)" {
		t.Fatalf("unexpected String() for unknown option number: %q", got)
	}
}
