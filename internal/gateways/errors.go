package gateway

import (
	"errors"
	"fmt"
)

// ErrServiceWindowExpired reports a 2xx session send whose body carried a
// provider error. The usual cause is an expired 24h service window; the
// caller substitutes a template send instead of retrying.
var ErrServiceWindowExpired = errors.New("whatsapp service window expired")

// TransientError marks a failure worth retrying: network errors, timeouts,
// 5xx and 429 responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: 4xx responses,
// body-level provider errors, malformed success bodies, missing config.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

func transientf(format string, args ...interface{}) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

func permanentf(format string, args ...interface{}) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is terminal.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
