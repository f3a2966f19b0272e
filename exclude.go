package flawless

import (
	zglob "github.com/mattn/go-zglob"
	"github.com/samsarahq/go/oops"
)

// isExcludedFile checks if path matches one of the exclusion globs.
func isExcludedFile(globs []string, path string) (bool, error) {
	for _, glob := range globs {
		if ok, err := zglob.Match(glob, path); err != nil {
			return false, oops.Wrapf(err, "invalid glob %q", glob)
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}

// excludeFrames drops the frames whose file matches one of the globs.
func excludeFrames(globs []string, chain []Frame) ([]Frame, error) {
	if len(globs) == 0 {
		return chain, nil
	}

	kept := make([]Frame, 0, len(chain))
	for _, frame := range chain {
		excluded, err := isExcludedFile(globs, frame.File)
		if err != nil {
			return nil, err
		}
		if !excluded {
			kept = append(kept, frame)
		}
	}
	return kept, nil
}
