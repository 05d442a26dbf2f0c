// Package proxyparams implements the query-parameter codecs the proxy
// uses to thread client-supplied context (headers, key material,
// decrypt flags) through every rewritten playlist and segment URL.
package proxyparams

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	"github.com/aminofox/hlsproxy/pkg/errors"
)

// EncodeHeaders encodes a header name->value mapping as URL-safe
// Base64 of its canonical JSON serialization. The empty mapping
// encodes to the empty string.
func EncodeHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}

	data, err := json.Marshal(headers)
	if err != nil {
		// headers is a map[string]string; Marshal cannot fail on it.
		return ""
	}

	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeHeaders decodes a Base64 header blob produced by EncodeHeaders.
// Header names are compared case-insensitively; when the payload has
// two keys that only differ by case, the last one (in JSON object
// iteration order) wins. The empty string decodes to the empty
// mapping.
func DecodeHeaders(encoded string) (map[string]string, error) {
	if encoded == "" {
		return map[string]string{}, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		// Tolerate standard (padded) base64 too, since some callers
		// percent-encode query values with a padded encoder.
		data, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.NewBadRequest("malformed header parameter")
		}
	}

	return decodeHeaderObject(data)
}

// decodeHeaderObject walks the JSON object token by token so that,
// when two keys collide case-insensitively, the one appearing later
// in the object wins deterministically (map unmarshal would discard
// JSON key order and make last-wins ambiguous).
func decodeHeaderObject(data []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.NewBadRequest("header parameter is not valid JSON")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.NewBadRequest("header parameter is not a JSON object")
	}

	out := make(map[string]string)
	seen := make(map[string]string)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errors.NewBadRequest("header parameter is not a JSON object")
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, errors.NewBadRequest("header parameter keys must be strings")
		}

		var value string
		if err := dec.Decode(&value); err != nil {
			return nil, errors.NewBadRequest("header parameter values must be strings")
		}

		lower := strings.ToLower(name)
		if canonical, ok := seen[lower]; ok {
			delete(out, canonical)
		}
		seen[lower] = name
		out[name] = value
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, errors.NewBadRequest("header parameter is not a JSON object")
	}

	return out, nil
}
