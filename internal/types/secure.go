package types

// redactedPlaceholder is what secrets render as in logs and dumps.
const redactedPlaceholder = "[REDACTED]"

var redactedJSON = []byte(`"` + redactedPlaceholder + `"`)

// SecretString wraps sensitive configuration values (API keys, connection
// strings) so that default formatting never leaks them.
type SecretString string

// String returns a redacted placeholder instead of the raw value. This is
// invoked by fmt.Sprintf, fmt.Println, and anything else using fmt.Stringer.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string so secrets
// never appear in serialized config dumps or structured log entries.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value. Limit use to the points where the
// actual secret is required (auth headers, connection strings).
func (s SecretString) Unmask() string {
	return string(s)
}
