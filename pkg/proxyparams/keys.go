package proxyparams

import (
	"encoding/hex"
	"strings"

	"github.com/aminofox/hlsproxy/pkg/errors"
)

// KeyMaterial is one client-supplied decryption key, optionally bound
// to a specific key id.
type KeyMaterial struct {
	KID []byte // nil when the entry was a bare key with no "kid:" prefix
	Key []byte
}

// ParseKeys parses the "k" query parameter: a comma-separated list of
// "kid:key" or bare "key" hex entries. Entries are returned in input
// order.
func ParseKeys(raw string) ([]KeyMaterial, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	out := make([]KeyMaterial, 0, len(parts))
	for _, part := range parts {
		entry := strings.TrimSpace(part)
		if entry == "" {
			return nil, errors.NewBadRequest("key parameter contains an empty entry")
		}

		var kidHex, keyHex string
		if idx := strings.Index(entry, ":"); idx >= 0 {
			kidHex = entry[:idx]
			keyHex = entry[idx+1:]
		} else {
			keyHex = entry
		}

		key, err := decodeHex(keyHex)
		if err != nil {
			return nil, errors.Wrap(errors.BadRequest, "key parameter has a malformed key", err)
		}
		if len(key) != 16 {
			return nil, errors.NewBadRequest("key parameter must decode to 16 bytes")
		}

		var kid []byte
		if kidHex != "" {
			kid, err = decodeHex(kidHex)
			if err != nil {
				return nil, errors.Wrap(errors.BadRequest, "key parameter has a malformed kid", err)
			}
		}

		out = append(out, KeyMaterial{KID: kid, Key: key})
	}

	return out, nil
}

// ParseIV decodes the "iv" query parameter: a 16-byte hex string,
// optionally 0x-prefixed.
func ParseIV(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}

	iv, err := decodeHex(raw)
	if err != nil {
		return nil, errors.Wrap(errors.BadRequest, "iv parameter is malformed", err)
	}
	if len(iv) != 16 {
		return nil, errors.NewBadRequest("iv parameter must decode to 16 bytes")
	}

	return iv, nil
}

// FindKey returns the key material matching kid. With no kid, it
// returns the first entry that has no KID, or the only entry when
// exactly one was supplied; otherwise it reports no match.
func FindKey(keys []KeyMaterial, kid []byte) ([]byte, bool) {
	if len(kid) == 0 {
		for _, k := range keys {
			if len(k.KID) == 0 {
				return k.Key, true
			}
		}
		if len(keys) == 1 {
			return keys[0].Key, true
		}
		return nil, false
	}

	for _, k := range keys {
		if hexEqual(k.KID, kid) {
			return k.Key, true
		}
	}

	return nil, false
}

func hexEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
