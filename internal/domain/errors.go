package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnauthorized marks a credential rejection (HTTP 401/403) from a source
// API. Fetchers wrap it so callers can tell auth failures, which are never
// retried, apart from transient ones.
var ErrUnauthorized = errors.New("source rejected credentials")

// ErrLeaseHeld reports that another run already holds a source's ingest
// lease. At most one run per source may be in flight.
var ErrLeaseHeld = errors.New("ingest lease already held")

// ValidationError describes a raw record that cannot be normalized into a
// storable row. Records failing validation are quarantined; they never fail
// the run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// QuarantinedRecord is the dead-letter payload for a record that failed
// validation.
type QuarantinedRecord struct {
	Source     string          `json:"source"`
	Reason     string          `json:"reason"`
	Record     json.RawMessage `json:"record"`
	OccurredAt time.Time       `json:"occurred_at"`
}
