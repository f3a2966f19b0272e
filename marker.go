package flawless

import "errors"

// reportedError marks a failure that has already been reported. It wraps
// the original failure without changing its message, so errors.Is and
// errors.As keep working on re-raised failures.
type reportedError struct {
	error
}

func (e *reportedError) Unwrap() error { return e.error }

// IsReported reports whether err was already reported by a wrapper.
func IsReported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}

// markReported returns err carrying the reported marker.
func markReported(err error) error {
	if err == nil || IsReported(err) {
		return err
	}
	return &reportedError{error: err}
}
