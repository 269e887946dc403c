// internal/reporting/sink_test.go
package reporting_test

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-vapt/internal/reporting"
)

func TestFileSink_WriteAndExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	sink, err := reporting.NewFileSink(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, sink.Dir())

	path, err := sink.Write("a.json", func(w io.Writer) error {
		_, err := fmt.Fprint(w, `{"ok":true}`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.json"), path)
	assert.True(t, sink.Exists(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestFileSink_RenderFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	sink, err := reporting.NewFileSink(dir)
	require.NoError(t, err)

	renderErr := errors.New("encoder exploded")
	_, err = sink.Write("b.json", func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return renderErr
	})
	assert.ErrorIs(t, err, renderErr)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "neither the artifact nor its temp file may remain")
	assert.False(t, sink.Exists(filepath.Join(dir, "b.json")))
}

func TestFileSink_ReplacesExistingArtifact(t *testing.T) {
	sink, err := reporting.NewFileSink(t.TempDir())
	require.NoError(t, err)

	write := func(body string) string {
		p, err := sink.Write("c.md", func(w io.Writer) error {
			_, err := io.WriteString(w, body)
			return err
		})
		require.NoError(t, err)
		return p
	}
	write("old")
	path := write("new")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(raw))
}
