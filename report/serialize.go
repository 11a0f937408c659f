package report

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// MarshalReport serialises a Report to JSON.
func MarshalReport(r *Report) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalReport deserialises a Report from JSON.
func UnmarshalReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// MarshalDelta serialises a Delta to JSON.
func MarshalDelta(d *Delta) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDelta deserialises a Delta from JSON.
func UnmarshalDelta(data []byte) (*Delta, error) {
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// HashHTML returns the SHA-256 hex digest of raw HTML bytes.
func HashHTML(html []byte) string {
	h := sha256.Sum256(html)
	return fmt.Sprintf("%x", h)
}
