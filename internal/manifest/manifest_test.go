package manifest

import (
	"reflect"
	"testing"
)

func TestRetainsRequiresUnchangedFingerprint(t *testing.T) {
	previous := Manifest{"a.js": "1", "b.js": "1", "c.js": "1"}
	current := Manifest{"a.js": "1", "b.js": "2", "d.js": "1"}

	cases := map[string]bool{
		"a.js": true,
		"b.js": false,
		"c.js": false,
		"d.js": false,
	}
	for key, want := range cases {
		if got := current.Retains(key, previous); got != want {
			t.Fatalf("Retains(%s) = %v, want %v", key, got, want)
		}
	}
}

func TestMissingReturnsSortedAbsentKeys(t *testing.T) {
	m := Manifest{"c": "3", "a": "1", "b": "2"}
	present := map[string]struct{}{"c": {}}

	got := m.Missing(present)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected missing keys: %v", got)
	}
	if extra := m.Missing(map[string]struct{}{"a": {}, "b": {}, "c": {}}); len(extra) != 0 {
		t.Fatalf("expected nothing missing, got %v", extra)
	}
}

func TestEncodeDecodeRoundTripIsStable(t *testing.T) {
	m := Manifest{"/": "r", "main.js": "m"}
	first, err := m.Encode()
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if string(first) != `{"/":"r","main.js":"m"}` {
		t.Fatalf("unexpected encoding: %s", first)
	}
	decoded, err := Decode(first)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !reflect.DeepEqual(decoded, m) {
		t.Fatalf("decoded manifest mismatch: %v", decoded)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}
