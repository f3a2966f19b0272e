package clireporter

import (
	"bufio"
	"io"
	"sync"
)

// LineBufferedWriter buffers output and flushes it one full line at a time,
// so concurrent warnings do not interleave mid-line.
type LineBufferedWriter struct {
	mu sync.Mutex
	*bufio.Writer
}

func NewLineBufferedWriter(w io.Writer) *LineBufferedWriter {
	return &LineBufferedWriter{Writer: bufio.NewWriter(w)}
}

func (w *LineBufferedWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, c := range p {
		if err = w.WriteByte(c); err != nil {
			break
		}

		n++
		if c == '\n' {
			if err = w.Flush(); err != nil {
				break
			}
		}
	}
	return n, err
}
