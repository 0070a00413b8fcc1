package engine

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// Redacted is the marker every serialized or printed Secret shows instead of
// its value.
const Redacted = "[REDACTED]"

// SecretArgKey reports whether an app argument key names a credential.
// App args are opaque, so credentials among them are recognized by key.
func SecretArgKey(key string) bool {
	return strings.Contains(strings.ToLower(key), "pass")
}

// Secret is a string whose value must never reach logs, reports, or any
// serialized form. fmt verbs, JSON, and YAML all see the redaction marker;
// the real value is only reachable through Value.
type Secret string

// Value returns the underlying secret value.
func (s Secret) Value() string { return string(s) }

// IsZero reports whether the secret is unset.
func (s Secret) IsZero() bool { return s == "" }

// String implements fmt.Stringer and always redacts.
func (s Secret) String() string { return Redacted }

// GoString redacts %#v formatting as well.
func (s Secret) GoString() string { return "engine.Secret(" + Redacted + ")" }

// MarshalJSON serializes the redaction marker, never the value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(Redacted)
}

// UnmarshalJSON accepts a plain string value.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Secret(str)
	return nil
}

// MarshalYAML serializes the redaction marker, never the value.
func (s Secret) MarshalYAML() (interface{}, error) {
	return Redacted, nil
}

// UnmarshalYAML accepts a plain scalar value.
func (s *Secret) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	*s = Secret(str)
	return nil
}
