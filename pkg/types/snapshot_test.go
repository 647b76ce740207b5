package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPlaceholder(t *testing.T) {
	p := Placeholder()
	if !p.IsPlaceholder() {
		t.Fatal("IsPlaceholder: got false, want true")
	}
	if p.Version() != 0 {
		t.Errorf("Version: got %d, want 0", p.Version())
	}
	var s string
	if err := json.Unmarshal(p.Payload(), &s); err != nil {
		t.Fatalf("payload is not a json string: %v", err)
	}
	if s != PlaceholderText {
		t.Errorf("payload: got %q, want %q", s, PlaceholderText)
	}
}

func TestEqual_ValueNotIdentity(t *testing.T) {
	now := time.Now()
	a, err := Encode(map[string]int{"temp": 30}, now)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(map[string]int{"temp": 30}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct pointers")
	}
	if !a.Equal(b) {
		t.Error("Equal: identical payloads fetched at different times should be equal")
	}
	if !a.Equal(b.WithVersion(7)) {
		t.Error("Equal: version must not take part in equality")
	}

	c, _ := Encode(map[string]int{"temp": 31}, now)
	if a.Equal(c) {
		t.Error("Equal: different payloads reported equal")
	}
}

func TestEqual_Nil(t *testing.T) {
	var a, b *Snapshot
	if !a.Equal(b) {
		t.Error("nil.Equal(nil): got false, want true")
	}
	if a.Equal(Placeholder()) {
		t.Error("nil.Equal(placeholder): got true, want false")
	}
	if Placeholder().Equal(nil) {
		t.Error("placeholder.Equal(nil): got true, want false")
	}
}

func TestWithVersion_DoesNotMutate(t *testing.T) {
	s, _ := Encode("x", time.Now())
	v := s.WithVersion(3)
	if s.Version() != 0 {
		t.Errorf("source version: got %d, want 0", s.Version())
	}
	if v.Version() != 3 {
		t.Errorf("copy version: got %d, want 3", v.Version())
	}
}

func TestEncode_Unserializable(t *testing.T) {
	if _, err := Encode(make(chan int), time.Now()); err == nil {
		t.Fatal("Encode(chan): expected error, got nil")
	}
}

func TestFromPayload(t *testing.T) {
	raw := []byte(`{"a":1}`)
	s, err := FromPayload(raw, time.Now())
	if err != nil {
		t.Fatalf("FromPayload: %v", err)
	}
	raw[2] = 'b'
	if string(s.Payload()) != `{"a":1}` {
		t.Errorf("payload aliased caller slice: %s", s.Payload())
	}

	_, err = FromPayload([]byte(`{not json`), time.Now())
	if !errors.Is(err, ErrParse) {
		t.Errorf("FromPayload(invalid): got %v, want ErrParse", err)
	}
}
