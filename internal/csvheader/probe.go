// Package csvheader reads the header row of gzip-compressed CSV files and
// compares it with a declared column list.
package csvheader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrEmptyFile is returned when the file has no header row.
var ErrEmptyFile = errors.New("csv file has no header")

// ReadHeader returns the first record of the gzip CSV at path.
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return readHeader(f)
}

func readHeader(r io.Reader) ([]string, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()

	cr := csv.NewReader(zr)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}
	return header, nil
}

// Diff compares an actual header with the expected column names. Names are
// compared case-insensitively and by position. An empty result means the
// header matches.
func Diff(expected, actual []string) []string {
	var out []string
	n := len(expected)
	if len(actual) > n {
		n = len(actual)
	}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(actual):
			out = append(out, fmt.Sprintf("missing column %d %q", i+1, expected[i]))
		case i >= len(expected):
			out = append(out, fmt.Sprintf("unexpected column %d %q", i+1, actual[i]))
		case !strings.EqualFold(expected[i], actual[i]):
			out = append(out, fmt.Sprintf("column %d: expected %q, got %q", i+1, expected[i], actual[i]))
		}
	}
	return out
}

// Check reads the header of path and diffs it against expected.
func Check(path string, expected []string) ([]string, error) {
	header, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	return Diff(expected, header), nil
}
