package config

// Secret is a string type that prevents accidental logging of sensitive
// values such as database passwords, OAuth client secrets, and token
// encryption keys. Its [Secret.String] and [Secret.GoString] methods
// return a redacted placeholder. Use [Secret.Value] to retrieve the
// actual secret value.
//
// This type guards against credential leakage in log output, error
// messages, and serialized configuration. It does NOT provide encryption
// at rest; use a secret manager (e.g., Vault via External Secrets
// Operator) for secret storage.
type Secret string

// redacted is the placeholder string returned by Secret's string methods.
const redacted = "[REDACTED]"

// String returns "[REDACTED]" to prevent accidental logging of the secret.
func (s Secret) String() string {
	return redacted
}

// GoString returns "[REDACTED]" for fmt.Sprintf("%#v", secret) safety.
func (s Secret) GoString() string {
	return redacted
}

// Value returns the actual secret string. Handle the returned value with
// care; avoid logging, serializing, or storing it in plaintext.
func (s Secret) Value() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler, returning "[REDACTED]" to
// prevent the secret from appearing in JSON, YAML, or other text-based
// serialization formats.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
