package config

import (
	"encoding/json"
	"log/slog"
)

// redacted is rendered in place of any secret value.
const redacted = "[REDACTED]"

// Secret holds a sensitive string such as a client secret or a temporary password.
// Every formatting path (fmt, slog, JSON) renders it masked; Reveal is the only
// way to obtain the plaintext.
type Secret string

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s == ""
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// MarshalJSON implements json.Marshaler and never emits the plaintext.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Reveal returns the plaintext value.
func (s Secret) Reveal() string {
	return string(s)
}

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer so %#v is masked too.
func (s Secret) GoString() string {
	return s.String()
}
