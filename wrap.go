package flawless

import (
	"context"
	"reflect"

	"github.com/samsarahq/go/oops"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type wrapOptions struct {
	capturePrelude bool
	reraise        bool
	errorThreshold *int
	additionalInfo interface{}
}

type WrapOption func(o *wrapOptions)

// CapturePrelude sets whether the stack at the time of wrapping is included
// in reports (default: true).
func CapturePrelude(capture bool) WrapOption {
	return func(o *wrapOptions) { o.capturePrelude = capture }
}

// Reraise sets whether a reported failure is re-raised to the caller
// (default: true). When false, the wrapped function returns zero values.
func Reraise(reraise bool) WrapOption {
	return func(o *wrapOptions) { o.reraise = reraise }
}

// WithErrorThreshold passes an error threshold hint along with every report.
func WithErrorThreshold(threshold int) WrapOption {
	return func(o *wrapOptions) { o.errorThreshold = &threshold }
}

// WithInfo attaches a free-form payload to every report.
func WithInfo(info interface{}) WrapOption {
	return func(o *wrapOptions) { o.additionalInfo = info }
}

// Wrap instruments fn with DefaultClient. See WrapWith.
func Wrap[F any](fn F, opts ...WrapOption) F {
	return newWrapper(DefaultClient, fn, opts)
}

// WrapWith returns a function with the same signature as fn that reports
// fn's failures through c.
//
// A failure is a panic, or a non-nil error as the last result of fn. The
// failure is reported once, then re-raised (panicking again, or returning the
// error) unless Reraise(false) was given, in which case the wrapped function
// returns zero values. Re-raised failures are marked so that enclosing
// wrappers do not report them again. A re-raised panic is therefore not the
// original value: recover it as an error and use errors.As to get at the
// *PanicError that carries a non-error panic value, e.g.
//
//	var pe *flawless.PanicError
//	if err, ok := recover().(error); ok && errors.As(err, &pe) {
//		fmt.Println(pe.Value)
//	}
//
// A failure that wraps an already reported one (for instance with %w) counts
// as reported too.
//
// If reporting itself fails, the wrapped function raises a *ReportError
// instead: returned when fn returned an error, panicked otherwise. A panic
// raised while reporting is not caught.
//
// WrapWith panics if fn is not a non-nil func.
func WrapWith[F any](c *Client, fn F, opts ...WrapOption) F {
	return newWrapper(c, fn, opts)
}

type wrapper struct {
	client       *Client
	fn           reflect.Value
	returnsError bool
	opts         wrapOptions
	preceding    []PreludeFrame
}

func newWrapper[F any](c *Client, fn F, opts []WrapOption) F {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		panic(oops.Errorf("flawless: cannot wrap %T, expected a non-nil func", fn))
	}

	w := &wrapper{
		client: c,
		fn:     v,
		opts:   wrapOptions{capturePrelude: true, reraise: true},
	}
	for _, opt := range opts {
		opt(&w.opts)
	}

	t := v.Type()
	w.returnsError = t.NumOut() > 0 && t.Out(t.NumOut()-1) == errorType

	if w.opts.capturePrelude {
		// 0 is us, 1 is Wrap or WrapWith, 2 is their caller.
		w.preceding = capturePrelude(c.extractor.Lines, 2)
	}

	return reflect.MakeFunc(t, w.call).Interface().(F)
}

func (w *wrapper) call(args []reflect.Value) (results []reflect.Value) {
	if w.client.Hostport() == "" {
		w.client.warnf("flawless server hostport not set")
	}

	stop := callerFunction(0)

	// Only panics raised by fn are captured. Once fn has returned, a panic
	// while reporting propagates untouched.
	returned := false
	defer func() {
		if returned {
			return
		}
		p := recover()
		if p == nil {
			return
		}

		failure := panicFailure(p)
		if IsReported(failure) {
			if w.opts.reraise {
				panic(p)
			}
			results = w.zero()
			return
		}

		if err := w.report(panicChain(stop), failure); err != nil {
			panic(&ReportError{Err: err, Failure: failure})
		}

		if w.opts.reraise {
			panic(markReported(failure))
		}
		results = w.zero()
	}()

	if w.fn.Type().IsVariadic() {
		results = w.fn.CallSlice(args)
	} else {
		results = w.fn.Call(args)
	}
	returned = true

	if !w.returnsError {
		return results
	}
	last := results[len(results)-1]
	if last.IsNil() {
		return results
	}

	failure := last.Interface().(error)
	if IsReported(failure) {
		if w.opts.reraise {
			return results
		}
		return w.zero()
	}

	if err := w.report(errorChain(failure, w.fn), failure); err != nil {
		return w.withError(results, &ReportError{Err: err, Failure: failure})
	}

	if w.opts.reraise {
		return w.withError(results, markReported(failure))
	}
	return w.zero()
}

// report delivers one failure. It runs on the calling goroutine.
func (w *wrapper) report(chain []Frame, failure error) error {
	hostname, err := w.client.hostname()
	if err != nil {
		return oops.Wrapf(err, "unable to resolve hostname")
	}

	opts := []RecordOption{WithPreceding(w.preceding)}
	if w.opts.errorThreshold != nil {
		opts = append(opts, WithThreshold(*w.opts.errorThreshold))
	}
	if w.opts.additionalInfo != nil {
		opts = append(opts, WithAdditionalInfo(w.opts.additionalInfo))
	}

	return w.client.RecordError(context.Background(), hostname, attachLocals(chain, failure), describe(failure), opts...)
}

// zero returns the zero value of every result of fn.
func (w *wrapper) zero() []reflect.Value {
	t := w.fn.Type()
	results := make([]reflect.Value, t.NumOut())
	for i := range results {
		results[i] = reflect.Zero(t.Out(i))
	}
	return results
}

// withError replaces the trailing error result.
func (w *wrapper) withError(results []reflect.Value, err error) []reflect.Value {
	out := make([]reflect.Value, len(results))
	copy(out, results)

	v := reflect.New(errorType).Elem()
	v.Set(reflect.ValueOf(err))
	out[len(out)-1] = v
	return out
}
