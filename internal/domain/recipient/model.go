package recipient

import (
	"errors"
	"strings"
)

// Domain errors
var (
	ErrEmptyID      = errors.New("recipient ID is required")
	ErrEmptyAddress = errors.New("recipient address is required")
)

// Recipient is one addressable target of a dispatch run.
type Recipient struct {
	ID      string
	Name    string            // Display name, used in reports
	Address string            // Destination email address
	Fields  map[string]string // Values for {fieldName} template tokens
}

// Validate checks that the Recipient has the data needed for delivery.
// PRE: Recipient struct is populated
// POST: Returns nil if valid, error otherwise
func (r Recipient) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(r.Address) == "" {
		return ErrEmptyAddress
	}
	return nil
}

// Field returns the named substitution value, or "" when the recipient has none.
// INVARIANT: Fields is not mutated
func (r Recipient) Field(name string) string {
	return r.Fields[name]
}

// Clone returns a deep copy so a running batch cannot observe later edits.
// POST: returned Fields map shares no storage with r.Fields
func (r Recipient) Clone() Recipient {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// CloneAll deep-copies a batch, preserving order.
func CloneAll(rs []Recipient) []Recipient {
	out := make([]Recipient, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}
