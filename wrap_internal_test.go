package flawless

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/samsarahq/flawless/config"
	"github.com/samsarahq/go/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wrapperFunction = "github.com/samsarahq/flawless.(*wrapper).call"

var errSentinel = errors.New("x")

// recovered runs fn and returns the value it panicked with, if any.
func recovered(fn func()) (p interface{}) {
	defer func() { p = recover() }()
	fn()
	return nil
}

func TestWrapSuccessPassesThrough(t *testing.T) {
	b := newBackend(t)
	defer b.Close()
	c := b.client()

	add := WrapWith(c, func(a, b int) (int, error) { return a + b, nil })
	sum, err := add(2, 3)
	assert.NoError(t, err)
	assert.Equal(t, 5, sum)

	join := WrapWith(c, func(sep string, parts ...string) string { return strings.Join(parts, sep) })
	assert.Equal(t, "a-b-c", join("-", "a", "b", "c"))

	called := false
	WrapWith(c, func() { called = true })()
	assert.True(t, called)

	assert.Empty(t, b.Requests())
}

func TestWrapReraisesReturnedError(t *testing.T) {
	b := newBackend(t)
	defer b.Close()

	fn := WrapWith(b.client(), func() (int, error) { return 7, errSentinel })
	n, err := fn()

	assert.Equal(t, 7, n)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errSentinel))
	assert.Equal(t, "x", err.Error())
	assert.True(t, IsReported(err))

	requests := b.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, `*errors.errorString("x")`, requests[0].ExceptionMessage)
	assert.Equal(t, "test-host", requests[0].Hostname)
}

func TestWrapReraisesPanic(t *testing.T) {
	b := newBackend(t)
	defer b.Close()

	fn := WrapWith(b.client(), func() { panic(errSentinel) })
	p := recovered(fn)

	err, ok := p.(error)
	require.True(t, ok, "expected an error, got %#v", p)
	assert.True(t, errors.Is(err, errSentinel))
	assert.Equal(t, "x", err.Error())

	fn = WrapWith(b.client(), func() { panic("boom") })
	p = recovered(fn)

	_, isString := p.(string)
	assert.False(t, isString)
	var panicErr *PanicError
	require.True(t, errors.As(p.(error), &panicErr))
	assert.Equal(t, "boom", panicErr.Value)

	requests := b.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, `*errors.errorString("x")`, requests[0].ExceptionMessage)
	assert.Equal(t, `panic("boom")`, requests[1].ExceptionMessage)
}

func TestWrapNestedReportsOnce(t *testing.T) {
	b := newBackend(t)
	defer b.Close()
	c := b.client()

	t.Run("returned error", func(t *testing.T) {
		calls := 0
		inner := WrapWith(c, func() error {
			calls++
			return errSentinel
		})
		middle := WrapWith(c, func() error { return inner() })
		outer := WrapWith(c, func() error { return middle() })

		err := outer()
		assert.True(t, errors.Is(err, errSentinel))
		assert.Equal(t, 1, calls)
		assert.Len(t, b.Requests(), 1)
	})

	t.Run("panic", func(t *testing.T) {
		before := len(b.Requests())
		inner := WrapWith(c, func() { panic(errSentinel) })
		middle := WrapWith(c, func() { inner() })
		outer := WrapWith(c, func() { middle() })

		p := recovered(outer)
		require.NotNil(t, p)
		assert.True(t, errors.Is(p.(error), errSentinel))
		assert.Len(t, b.Requests(), before+1)
	})

	t.Run("suppressing outer wrapper", func(t *testing.T) {
		before := len(b.Requests())
		inner := WrapWith(c, func() error { return errSentinel })
		outer := WrapWith(c, func() error { return inner() }, Reraise(false))

		assert.NoError(t, outer())
		assert.Len(t, b.Requests(), before+1)
	})

	t.Run("suppressing outer wrapper around a panic", func(t *testing.T) {
		before := len(b.Requests())
		inner := WrapWith(c, func() int { panic(errSentinel) })
		outer := WrapWith(c, func() int { return inner() }, Reraise(false))

		n := -1
		assert.Nil(t, recovered(func() { n = outer() }))
		assert.Equal(t, 0, n)
		assert.Len(t, b.Requests(), before+1)
	})

	t.Run("wrapped reported error", func(t *testing.T) {
		before := len(b.Requests())
		inner := WrapWith(c, func() error { return errSentinel })
		outer := WrapWith(c, func() error { return fmt.Errorf("handler failed: %w", inner()) })

		err := outer()
		assert.Equal(t, "handler failed: x", err.Error())
		assert.True(t, errors.Is(err, errSentinel))

		requests := b.Requests()
		require.Len(t, requests, before+1)
		assert.Equal(t, `*errors.errorString("x")`, requests[len(requests)-1].ExceptionMessage)
	})
}

func TestWrapConcurrentCalls(t *testing.T) {
	b := newBackend(t)
	defer b.Close()
	c := b.client()

	fn := WrapWith(c, func(i int) (int, error) {
		if i%2 == 0 {
			return i, errSentinel
		}
		panic(errSentinel)
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := fn(i)
				assert.True(t, errors.Is(err, errSentinel))
				return
			}
			p := recovered(func() { fn(i) })
			assert.True(t, errors.Is(p.(error), errSentinel))
		}(i)
	}
	wg.Wait()

	assert.Len(t, b.Requests(), 16)
}

// derefError dereferences its receiver, so a nil *derefError panics when
// it is rendered.
type derefError struct {
	msg string
}

func (e *derefError) Error() string { return e.msg }

func TestWrapDoesNotCatchReportingPanics(t *testing.T) {
	b := newBackend(t)
	defer b.Close()

	fn := WrapWith(b.client(), func() error {
		var err *derefError
		return err
	})
	p := recovered(func() { fn() })
	require.NotNil(t, p)

	_, ok := p.(runtime.Error)
	assert.True(t, ok, "expected the reporting panic itself, got %#v", p)
	assert.False(t, IsReported(p.(error)))
	assert.Empty(t, b.Requests())

	hostnamePanics := WrapWith(b.client(WithHostname(func() (string, error) {
		panic("no hostname")
	})), func() error { return errSentinel })
	assert.Equal(t, "no hostname", recovered(func() { hostnamePanics() }))
	assert.Empty(t, b.Requests())
}

func TestWrapSuppress(t *testing.T) {
	b := newBackend(t)
	defer b.Close()
	c := b.client()

	fn := WrapWith(c, func() (string, error) { return "partial", errSentinel }, Reraise(false))
	s, err := fn()
	assert.NoError(t, err)
	assert.Equal(t, "", s)

	panics := WrapWith(c, func() int { panic("boom") }, Reraise(false))
	var n int
	assert.Nil(t, recovered(func() { n = panics() }))
	assert.Equal(t, 0, n)

	assert.Len(t, b.Requests(), 2)
}

func TestWrapWarnsWithoutHostport(t *testing.T) {
	var warnings bytes.Buffer
	c := NewClient(config.Default(), WithWarnings(&warnings))

	calls := 0
	fn := WrapWith(c, func() int {
		calls++
		return calls
	})

	assert.Equal(t, 1, fn())
	assert.Equal(t, 1, strings.Count(warnings.String(), "hostport not set"))
	assert.Equal(t, 2, fn())
	assert.Equal(t, 2, strings.Count(warnings.String(), "hostport not set"))
}

func TestWrapReportFailureIsDistinct(t *testing.T) {
	var warnings bytes.Buffer
	c := NewClient(config.Default(), WithWarnings(&warnings))

	fn := WrapWith(c, func() error { return errSentinel })
	err := fn()

	var reportErr *ReportError
	require.True(t, errors.As(err, &reportErr), "expected *ReportError, got %v", err)
	assert.Equal(t, errSentinel, reportErr.Failure)
	assert.False(t, errors.Is(err, errSentinel))

	panics := WrapWith(c, func() { panic(errSentinel) })
	p := recovered(panics)
	reportErr, ok := p.(*ReportError)
	require.True(t, ok, "expected *ReportError, got %#v", p)
	assert.Equal(t, errSentinel, reportErr.Failure)

	hostnameFails := WrapWith(NewClient(config.Default(), WithWarnings(&warnings), WithHostname(func() (string, error) {
		return "", errors.New("no hostname")
	})), func() error { return errSentinel })
	err = hostnameFails()
	require.True(t, errors.As(err, &reportErr))
	assert.Contains(t, reportErr.Error(), "no hostname")
}

func TestWrapReportsPanicChain(t *testing.T) {
	b := newBackend(t)
	defer b.Close()

	fn := WrapWith(b.client(), func() { panic("boom") })
	recovered(fn)

	requests := b.Requests()
	require.Len(t, requests, 1)
	traceback := requests[0].Traceback

	var wrapperIndex = -1
	for i, line := range traceback {
		if line.FunctionName == wrapperFunction {
			wrapperIndex = i
		}
	}
	require.True(t, wrapperIndex >= 0, "wrapper frame missing from %+v", traceback)

	// The prelude, captured at wrap time, names this test before the chain starts.
	var preludeHasTest bool
	for _, line := range traceback[:wrapperIndex] {
		if line.FunctionName == "github.com/samsarahq/flawless.TestWrapReportsPanicChain" {
			preludeHasTest = true
			assert.Contains(t, line.Text, "WrapWith(b.client()")
		}
	}
	assert.True(t, preludeHasTest, "prelude missing from %+v", traceback)

	innermost := traceback[len(traceback)-1]
	assert.True(t, strings.HasPrefix(innermost.FunctionName, "github.com/samsarahq/flawless.TestWrapReportsPanicChain.func"), innermost.FunctionName)
	assert.True(t, strings.HasSuffix(innermost.Filename, "wrap_internal_test.go"), innermost.Filename)
	assert.Contains(t, innermost.Text, `panic("boom")`)
	for _, line := range traceback[wrapperIndex:] {
		assert.False(t, strings.HasPrefix(line.FunctionName, "runtime."), line.FunctionName)
		assert.False(t, strings.HasPrefix(line.FunctionName, "reflect."), line.FunctionName)
	}
}

func TestWrapWithoutPrelude(t *testing.T) {
	b := newBackend(t)
	defer b.Close()

	fn := WrapWith(b.client(), func() error { return errSentinel }, CapturePrelude(false))
	fn()

	requests := b.Requests()
	require.Len(t, requests, 1)
	traceback := requests[0].Traceback
	require.Len(t, traceback, 2)
	assert.Equal(t, wrapperFunction, traceback[0].FunctionName)
	assert.True(t, strings.HasPrefix(traceback[1].FunctionName, "github.com/samsarahq/flawless.TestWrapWithoutPrelude.func"), traceback[1].FunctionName)
}

func TestWrapOopsChain(t *testing.T) {
	b := newBackend(t)
	defer b.Close()

	fn := WrapWith(b.client(), func() error {
		return oops.Errorf("bad input %d", 3)
	}, CapturePrelude(false))
	err := fn()
	assert.Contains(t, err.Error(), "bad input 3")

	requests := b.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, `*errors.errorString("bad input 3")`, requests[0].ExceptionMessage)

	traceback := requests[0].Traceback
	require.NotEmpty(t, traceback)
	assert.Equal(t, wrapperFunction, traceback[0].FunctionName)
	assert.True(t, strings.HasPrefix(traceback[len(traceback)-1].FunctionName, "github.com/samsarahq/flawless.TestWrapOopsChain.func"))
}

func TestWrapReportsLocals(t *testing.T) {
	b := newBackend(t)
	defer b.Close()

	fn := WrapWith(b.client(), func(n int) error {
		self := &widget{a: 1, b: 2}
		return WithLocals(errSentinel, map[string]interface{}{"self": self, "n": n})
	}, CapturePrelude(false))
	err := fn(3)
	assert.True(t, errors.Is(err, errSentinel))

	requests := b.Requests()
	require.Len(t, requests, 1)
	traceback := requests[0].Traceback
	require.NotEmpty(t, traceback)
	assert.Equal(t, map[string]string{"n": "3", "self.a": "1", "self.b": "2"}, traceback[len(traceback)-1].FrameLocals)
}

func TestWrapForwardsThresholdAndInfo(t *testing.T) {
	b := newBackend(t)
	defer b.Close()

	fn := WrapWith(b.client(), func() error { return errSentinel },
		WithErrorThreshold(10), WithInfo(map[string]interface{}{"job": "nightly"}))
	fn()

	requests := b.Requests()
	require.Len(t, requests, 1)
	require.NotNil(t, requests[0].ErrorThreshold)
	assert.Equal(t, 10, *requests[0].ErrorThreshold)
	assert.Equal(t, map[string]interface{}{"job": "nightly"}, requests[0].AdditionalInfo)
}

func TestWrapDefaultClient(t *testing.T) {
	b := newBackend(t)
	defer b.Close()

	SetHostport(b.Hostport())
	defer SetHostport("")

	fn := Wrap(func() error { return errSentinel }, Reraise(false))
	assert.NoError(t, fn())
	assert.Len(t, b.Requests(), 1)
}

func TestWrapRejectsNonFunctions(t *testing.T) {
	c := NewClient(config.Default())
	assert.Panics(t, func() { WrapWith(c, 3) })

	var nilFn func()
	assert.Panics(t, func() { WrapWith(c, nilFn) })
}
