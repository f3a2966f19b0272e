// Package clireporter writes the client's own diagnostics (warnings about
// missing configuration) to the terminal, prefixed and colored.
package clireporter

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

type PrefixedWriter struct {
	io.Writer
	Prefix    string
	Padding   int
	Separator string
}

var colors = []color.Attribute{
	color.FgYellow,
	color.FgMagenta,
	color.FgCyan,
	color.FgGreen,
	color.FgBlue,
}

// Stderr returns the writer the client warns through by default.
func Stderr() io.Writer {
	return &PrefixedWriter{
		Writer:    NewLineBufferedWriter(os.Stderr),
		Prefix:    "flawless",
		Separator: "⚠️",
	}
}

func (w *PrefixedWriter) Write(p []byte) (n int, err error) {
	separator := w.Separator
	if separator == "" {
		separator = ">"
	}

	h := fnv.New32a()
	h.Write([]byte(w.Prefix))
	c := colors[int(h.Sum32()%uint32(len(colors)))]
	prefix := color.New(c).Sprint(leftPad(w.Prefix, w.Padding))

	lines := strings.Split(strings.TrimRight(string(p), "\n"), "\n")
	prefixed := make([]string, len(lines))
	for i, line := range lines {
		prefixed[i] = fmt.Sprintf("%s %s %s", prefix, separator, line)
	}

	_, err = w.Writer.Write([]byte(strings.Join(prefixed, "\n") + "\n"))
	return len(p), err
}

func leftPad(s string, l int) string {
	padding := l - len(s)
	if padding < 0 {
		padding = 0
	}
	return fmt.Sprintf("%s%s", strings.Repeat(" ", padding), s)
}
