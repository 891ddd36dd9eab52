package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, body := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestEachZIPEntry(t *testing.T) {
	path := writeZIP(t, map[string]string{
		"2024-02/2024-02-hampshire-street.csv":   "b",
		"2024-01/2024-01-hampshire-street.csv":   "a",
		"2024-01/2024-01-hampshire-outcomes.csv": "x",
	})

	var names, bodies []string
	n, err := EachZIPEntry(path, HasSuffix("-street.csv"), func(name string, r io.Reader) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		names = append(names, name)
		bodies = append(bodies, string(data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"2024-01/2024-01-hampshire-street.csv", "2024-02/2024-02-hampshire-street.csv"}, names)
	assert.Equal(t, []string{"a", "b"}, bodies)
}

func TestEachZIPEntry_CallbackError(t *testing.T) {
	path := writeZIP(t, map[string]string{"a.csv": "1", "b.csv": "2"})
	n, err := EachZIPEntry(path, nil, func(name string, _ io.Reader) error {
		if name == "b.csv" {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), "b.csv")
}

func TestEachZIPEntry_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0o644))
	_, err := EachZIPEntry(path, nil, func(string, io.Reader) error { return nil })
	assert.Error(t, err)
}
