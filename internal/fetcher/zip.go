package fetcher

import (
	"archive/zip"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// EachZIPEntry calls fn with every regular file in the archive whose name
// matches, in name order. Entries are streamed without extraction. A nil
// match accepts every file.
func EachZIPEntry(zipPath string, match func(name string) bool, fn func(name string, r io.Reader) error) (int, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	files := make([]*zip.File, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if match != nil && !match(f.Name) {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	for i, f := range files {
		if err := readZIPEntry(f, fn); err != nil {
			return i, err
		}
	}
	return len(files), nil
}

func readZIPEntry(f *zip.File, fn func(name string, r io.Reader) error) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "zip: open entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	if err := fn(f.Name, rc); err != nil {
		return eris.Wrapf(err, "zip: process entry %s", f.Name)
	}
	return nil
}

// HasSuffix builds a match function for EachZIPEntry on the base name.
func HasSuffix(suffix string) func(string) bool {
	return func(name string) bool {
		return strings.HasSuffix(path.Base(name), suffix)
	}
}
