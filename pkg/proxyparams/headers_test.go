package proxyparams

import (
	"reflect"
	"testing"
)

func TestHeaderCodecRoundTrip(t *testing.T) {
	cases := []map[string]string{
		{},
		{"Authorization": "Bearer abc"},
		{"X-A": "1", "X-B": "2"},
	}

	for _, m := range cases {
		encoded := EncodeHeaders(m)
		decoded, err := DecodeHeaders(encoded)
		if err != nil {
			t.Fatalf("DecodeHeaders(%q): %v", encoded, err)
		}
		if len(m) == 0 {
			if len(decoded) != 0 {
				t.Fatalf("expected empty map, got %v", decoded)
			}
			continue
		}
		if !reflect.DeepEqual(m, decoded) {
			t.Fatalf("round trip mismatch: in=%v out=%v", m, decoded)
		}
	}
}

func TestEncodeHeadersEmptyIsEmptyString(t *testing.T) {
	if got := EncodeHeaders(nil); got != "" {
		t.Fatalf("EncodeHeaders(nil) = %q, want empty", got)
	}
	if got := EncodeHeaders(map[string]string{}); got != "" {
		t.Fatalf("EncodeHeaders({}) = %q, want empty", got)
	}
}

func TestDecodeHeadersEmptyStringIsEmptyMap(t *testing.T) {
	m, err := DecodeHeaders("")
	if err != nil {
		t.Fatalf("DecodeHeaders(\"\"): %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty map, got %v", m)
	}
}

func TestDecodeHeadersMalformedBase64(t *testing.T) {
	if _, err := DecodeHeaders("not valid base64!!"); err == nil {
		t.Fatal("expected error for malformed base64")
	}
}

func TestDecodeHeadersNonObjectJSON(t *testing.T) {
	// base64 of "[1,2,3]"
	encoded := "WzEsMiwzXQ"
	if _, err := DecodeHeaders(encoded); err == nil {
		t.Fatal("expected error for non-object JSON payload")
	}
}

func TestDecodeHeadersCaseInsensitiveDedupLastWins(t *testing.T) {
	// json.Marshal of a map sorts keys, so "X-Foo" precedes "x-foo" in
	// the encoded bytes; DecodeHeaders processes keys in that order,
	// so the lexicographically-later variant ("x-foo") wins.
	encoded := EncodeHeaders(map[string]string{"X-Foo": "a", "x-foo": "b"})
	decoded, err := DecodeHeaders(encoded)
	if err != nil {
		t.Fatalf("DecodeHeaders: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected exactly one surviving key, got %v", decoded)
	}
	if decoded["x-foo"] != "b" {
		t.Fatalf("expected x-foo=b to survive, got %v", decoded)
	}
}
