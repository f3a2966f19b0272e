package flawless

import (
	"errors"
	"reflect"
	"runtime"
	"strings"

	"github.com/samsarahq/go/oops"
)

// maxCallers bounds how many program counters a single capture walks.
const maxCallers = 256

// Frame is one activation record of a failure's chain.
type Frame struct {
	File     string
	Line     int
	Function string
	// Locals are the variables attached to this frame with WithLocals.
	Locals map[string]interface{}
}

// PreludeFrame is a frame of the call stack that preceded the instrumented
// call, typically the stack at the time the wrapper was installed.
type PreludeFrame struct {
	File     string
	Line     int
	Function string
	Text     string
}

// callerFunction returns the name of the function skip frames above its caller.
func callerFunction(skip int) string {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		return fn.Name()
	}
	return ""
}

// callers returns the stack of the calling goroutine, innermost frame first.
// skip 0 starts at the caller of callers.
func callers(skip int) []runtime.Frame {
	pcs := make([]uintptr, maxCallers)
	// 0 is runtime.Callers, 1 is us.
	n := runtime.Callers(skip+2, pcs)
	return expand(pcs[:n])
}

func expand(pcs []uintptr) []runtime.Frame {
	if len(pcs) == 0 {
		return nil
	}
	var frames []runtime.Frame
	iter := runtime.CallersFrames(pcs)
	for {
		frame, more := iter.Next()
		frames = append(frames, frame)
		if !more {
			break
		}
	}
	return frames
}

func isRuntimeFrame(function string) bool {
	return strings.HasPrefix(function, "runtime.") || strings.HasPrefix(function, "reflect.")
}

// chainFrom converts an innermost-first stack into an outermost-first chain
// that ends at the frame of stop (inclusive). Without a stop frame the whole
// stack is kept.
func chainFrom(stack []runtime.Frame, stop string) []Frame {
	var chain []Frame
	for _, frame := range stack {
		if isRuntimeFrame(frame.Function) {
			continue
		}
		chain = append(chain, Frame{File: frame.File, Line: frame.Line, Function: frame.Function})
		if stop != "" && frame.Function == stop {
			break
		}
	}
	reverse(chain)
	return chain
}

func reverse(frames []Frame) {
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
}

// panicChain must be called from a deferred function while a panic is in
// flight. It returns the frames from stop down to the panic site.
func panicChain(stop string) []Frame {
	stack := callers(1)

	// The deferred handler frames sit above runtime.gopanic; the panic
	// site is the first non-runtime frame below it.
	start := 0
	for i, frame := range stack {
		if frame.Function == "runtime.gopanic" {
			start = i + 1
			break
		}
	}
	return chainFrom(stack[start:], stop)
}

// stackTracer is implemented by errors that record where they were created.
type stackTracer interface {
	Callers() []uintptr
}

// errorChain returns the chain of a returned error: the stack recorded by
// the error itself when it has one, otherwise the calling wrapper frame and
// the entry of fn.
func errorChain(err error, fn reflect.Value) []Frame {
	stop := callerFunction(1)

	var tracer stackTracer
	if errors.As(err, &tracer) {
		if chain := chainFrom(expand(tracer.Callers()), stop); len(chain) > 0 {
			return chain
		}
	}

	if stacks := oops.Frames(err); len(stacks) > 0 && len(stacks[0]) > 0 {
		var chain []Frame
		for _, frame := range stacks[0] {
			if isRuntimeFrame(frame.Function) {
				continue
			}
			chain = append(chain, Frame{File: frame.File, Line: frame.Line, Function: frame.Function})
			if frame.Function == stop {
				break
			}
		}
		reverse(chain)
		return chain
	}

	_, file, line, _ := runtime.Caller(1)
	chain := []Frame{{File: file, Line: line, Function: stop}}
	if f := runtime.FuncForPC(fn.Pointer()); f != nil {
		file, line := f.FileLine(f.Entry())
		chain = append(chain, Frame{File: file, Line: line, Function: f.Name()})
	}
	return chain
}

// attachLocals distributes the variables recorded with WithLocals onto the
// chain. Each set lands on the innermost frame of the function that recorded
// it, or on the innermost frame when that function is not in the chain.
func attachLocals(chain []Frame, err error) []Frame {
	if len(chain) == 0 {
		return chain
	}

	out := make([]Frame, len(chain))
	copy(out, chain)

	for e := err; e != nil; e = errors.Unwrap(e) {
		le, ok := e.(*localsError)
		if !ok {
			continue
		}

		target := len(out) - 1
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].Function == le.function {
				target = i
				break
			}
		}

		merged := make(map[string]interface{}, len(out[target].Locals)+len(le.locals))
		for k, v := range out[target].Locals {
			merged[k] = v
		}
		for k, v := range le.locals {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
		out[target].Locals = merged
	}
	return out
}

// capturePrelude returns the current stack outermost frame first, starting
// skip frames above the caller of capturePrelude.
func capturePrelude(lines LineSource, skip int) []PreludeFrame {
	stack := callers(skip + 1)

	prelude := make([]PreludeFrame, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		frame := stack[i]
		if frame.Function == "runtime.main" || frame.Function == "runtime.goexit" {
			continue
		}
		prelude = append(prelude, PreludeFrame{
			File:     frame.File,
			Line:     frame.Line,
			Function: frame.Function,
			Text:     strings.TrimSpace(lineText(lines, frame.File, frame.Line)),
		})
	}
	return prelude
}
