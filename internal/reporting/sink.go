// internal/reporting/sink.go
package reporting

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

// Sink persists rendered artifacts.
type Sink interface {
	// Write stores the output of render under name and returns its path.
	Write(name string, render func(io.Writer) error) (string, error)
	// Exists reports whether a previously written artifact is still present.
	Exists(path string) bool
}

// FileSink writes artifacts into a directory. A write either leaves the
// complete artifact at its final path or nothing there at all.
type FileSink struct {
	dir string
}

// NewFileSink returns a sink rooted at dir, creating it if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

// Dir is the directory artifacts are written to.
func (s *FileSink) Dir() string { return s.dir }

func (s *FileSink) Write(name string, render func(io.Writer) error) (path string, err error) {
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary report file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = render(tmp); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to sync report file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close report file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("failed to set report permissions: %w", err)
	}
	if err = os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}

	if _, statErr := os.Stat(final); statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", schemas.ErrArtifactMissing, final)
		}
		return "", fmt.Errorf("failed to verify report file: %w", statErr)
	}
	return final, nil
}

func (s *FileSink) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
