package flawless

import (
	"fmt"
	"strings"

	"github.com/samsarahq/go/oops"
)

// ReportError is raised when a failure could not be reported. It is never
// produced by the instrumented function itself, so callers can tell an
// instrumentation malfunction apart from the failure being monitored.
type ReportError struct {
	// Err is why reporting failed.
	Err error
	// Failure is the failure that was being reported.
	Failure error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("flawless: unable to report %s: %v", describe(e.Failure), e.Err)
}

func (e *ReportError) Unwrap() error { return e.Err }

// PanicError carries a recovered panic value that was not an error.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// panicFailure converts a recovered panic value to the failure it represents.
func panicFailure(p interface{}) error {
	if err, ok := p.(error); ok {
		return err
	}
	return &PanicError{Value: p}
}

// describe renders a failure the way it appears in exception_message: the
// dynamic type of the underlying error and its message, e.g.
// *errors.errorString("x").
func describe(err error) string {
	if err == nil {
		return "<nil>"
	}

	base := err
	for {
		switch e := base.(type) {
		case *localsError:
			base = e.error
			continue
		case *reportedError:
			base = e.error
			continue
		}
		break
	}

	if p, ok := base.(*PanicError); ok {
		return fmt.Sprintf("panic(%#v)", p.Value)
	}

	text := err.Error()
	// oops errors render their stacktrace after a blank line.
	if len(oops.Frames(base)) > 0 {
		if i := strings.Index(text, "\n\n"); i >= 0 {
			text = text[:i]
		}
	}
	return fmt.Sprintf("%T(%q)", oops.Cause(base), text)
}
