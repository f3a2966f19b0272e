// Package flawless reports failures of instrumented functions to a flawless
// backend.
//
// Wrap returns a function of the same type as its argument. When the wrapped
// function panics, or returns a non-nil trailing error, the failure's call
// chain is extracted (file, line, function, source text and any variables
// attached with WithLocals) and POSTed to http://<hostport>/record_error.
// The failure is then re-raised (the default) or suppressed.
//
// A failure is reported at most once: re-raised failures carry a marker, and
// enclosing wrappers pass marked failures through without reporting them
// again.
//
//	flawless.SetHostport("flawless.internal:9028")
//	handle := flawless.Wrap(func(id int) (string, error) { ... })
package flawless

import "github.com/samsarahq/flawless/config"

const (
	// MaxStackRepr caps the length of each captured variable representation.
	MaxStackRepr = 500
	// MaxLocals caps the number of captured variables per frame.
	MaxLocals = 100
	// NumFramesToSave is how many of the innermost chain frames keep their variables.
	NumFramesToSave = 20
)

// SetHostport sets the process-wide backend "host:port" used by clients
// whose configuration does not name one.
func SetHostport(hostport string) {
	config.SetHostport(hostport)
}
