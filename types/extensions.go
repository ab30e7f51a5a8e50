package types

import (
	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Extensions is an opaque key to JSON blob map carried by tickets, profiles,
// proposals and assignments. Producers and consumers agree on keys out of
// band; the core never interprets entries it does not know.
type Extensions map[string]json.RawMessage

// Int reads an integer extension. Returns fallback when the key is absent
// or does not decode as an integer.
func (e Extensions) Int(key string, fallback int) int {
	raw, ok := e[key]
	if !ok {
		return fallback
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback
	}
	return v
}

// String reads a string extension. Returns fallback when the key is absent
// or does not decode as a string.
func (e Extensions) String(key, fallback string) string {
	raw, ok := e[key]
	if !ok {
		return fallback
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback
	}
	return v
}

// Set marshals v under key, allocating the map if needed.
func (e *Extensions) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "failed to marshal extension %q", key)
	}
	if *e == nil {
		*e = Extensions{}
	}
	(*e)[key] = raw
	return nil
}
