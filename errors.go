package cfddns

import (
	"errors"
	"fmt"
)

// Kind classifies a sync failure by what the loop should do about it.
type Kind string

const (
	// KindResolution covers public IP lookup failures. Transient.
	KindResolution Kind = "resolution"
	// KindAuth covers rejected credentials (401) and insufficient
	// permissions (403). Unrecoverable without new configuration.
	KindAuth Kind = "auth"
	// KindNotFound means the zone has no matching record, or a pinned
	// record id no longer exists. Unrecoverable without operator action.
	KindNotFound Kind = "not_found"
	// KindValidation means the provider rejected an update payload.
	KindValidation Kind = "validation"
	// KindProvider covers everything else the provider can do wrong:
	// network failures, 5xx responses, rate limits, malformed bodies.
	// Transient.
	KindProvider Kind = "provider"
)

// Error is the failure type returned by resolvers, record clients, and the
// sync loop. Wrapped causes remain reachable through errors.Is and errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or the empty Kind when err was
// not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether err should stop the sync loop rather than be
// retried on the next cycle. Bad credentials and missing records stay bad
// until a human fixes them.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindNotFound:
		return true
	}
	return false
}
