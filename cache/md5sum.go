package cache

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
)

// fingerprint identifies one version of a source file.
// It hashes the filename + modified time + size, so an edited file no
// longer matches its cached lines.
func fingerprint(path string) (string, error) {
	s, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	hash := md5.New()
	io.WriteString(hash, fmt.Sprintf("%s:%v:%d", path, s.ModTime(), s.Size()))
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
