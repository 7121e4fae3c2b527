package notify

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when a channel has no transport.
var ErrNotConfigured = errors.New("channel not configured")

// DeliveryError reports a failed send to a single target.
// Permanent failures mean the target is gone and must not be used again.
type DeliveryError struct {
	Target     string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery failure to %s: status %d: %v", kind, e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s delivery failure to %s: %v", kind, e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a permanent DeliveryError.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}
