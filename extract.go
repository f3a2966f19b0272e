package flawless

import (
	"path/filepath"

	"github.com/samsarahq/go/oops"
)

// LineSource looks up the text of a source line. Implementations return ""
// when the line is unavailable.
type LineSource interface {
	Line(path string, lineno int) string
}

// LineSourceFunc adapts a function to a LineSource.
type LineSourceFunc func(path string, lineno int) string

func (f LineSourceFunc) Line(path string, lineno int) string { return f(path, lineno) }

// Extractor turns failure chains into tracebacks.
type Extractor struct {
	Lines LineSource
	// ExcludeFiles are globs of files whose chain frames are dropped.
	ExcludeFiles []string
}

func NewExtractor(lines LineSource, excludeFiles []string) *Extractor {
	return &Extractor{Lines: lines, ExcludeFiles: excludeFiles}
}

// Extract builds the traceback of a failure: the preceding frames as given,
// then the chain from outermost to innermost frame. Only the innermost
// NumFramesToSave chain frames keep their variables.
func (x *Extractor) Extract(chain []Frame, preceding []PreludeFrame) ([]StackLine, error) {
	chain, err := excludeFrames(x.ExcludeFiles, chain)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to filter stack")
	}

	lines := make([]StackLine, 0, len(preceding)+len(chain))
	for _, row := range preceding {
		filename, err := filepath.Abs(row.File)
		if err != nil {
			return nil, oops.Wrapf(err, "unable to resolve %s", row.File)
		}
		lines = append(lines, StackLine{
			Filename:     filename,
			LineNumber:   row.Line,
			FunctionName: row.Function,
			Text:         row.Text,
		})
	}

	for index, frame := range chain {
		filename, err := filepath.Abs(frame.File)
		if err != nil {
			return nil, oops.Wrapf(err, "unable to resolve %s", frame.File)
		}

		var locals map[string]string
		if index >= len(chain)-NumFramesToSave {
			locals = boundLocals(frame.Locals)
		}

		lines = append(lines, StackLine{
			Filename:     filename,
			LineNumber:   frame.Line,
			FunctionName: frame.Function,
			Text:         lineText(x.Lines, frame.File, frame.Line),
			FrameLocals:  locals,
		})
	}
	return lines, nil
}

// lineText never fails: a missing source or a panicking LineSource yields "".
func lineText(lines LineSource, path string, lineno int) (text string) {
	if lines == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	return lines.Line(path, lineno)
}
