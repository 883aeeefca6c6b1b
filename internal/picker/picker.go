// Package picker turns file selections from the terminal, the command line
// or a watched directory into session file handles.
package picker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fakeyudi/scanup/internal/session"
)

// LocalFile is a FileHandle backed by a path on disk. The file is opened
// only when the payload is written.
type LocalFile struct {
	Path string
}

func (f LocalFile) Name() string { return filepath.Base(f.Path) }

func (f LocalFile) Open() (io.ReadCloser, error) { return os.Open(f.Path) }

// FromPaths builds the handles for one selection event, keeping the order
// given. Every path must name a regular file.
func FromPaths(paths []string) ([]session.FileHandle, error) {
	files := make([]session.FileHandle, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("selecting %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("selecting %s: not a regular file", p)
		}
		files = append(files, LocalFile{Path: abs})
	}
	return files, nil
}
