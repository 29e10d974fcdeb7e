// Package pipeline turns the raw dataset file into a fitted model and the
// artifacts the serving side loads.
package pipeline

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	ErrEmptyDataset  = eris.New("dataset has no usable rows")
	ErrMissingColumn = eris.New("dataset is missing a required column")
)

// DatasetOptions describes how the dataset file is encoded.
type DatasetOptions struct {
	// Delimiter defaults to ','.
	Delimiter rune
	// Charset is an IANA name; empty means UTF-8. A byte order mark always
	// wins over the configured charset.
	Charset string
}

// Dataset is a header plus raw string cells, one slice per row.
type Dataset struct {
	Columns []string
	Rows    [][]string
	// Lines holds the 1-based file line of each row, for error messages.
	Lines []int
}

func (d *Dataset) ColumnIndex(name string) (int, bool) {
	for i, col := range d.Columns {
		if col == name {
			return i, true
		}
	}
	return -1, false
}

func (d *Dataset) Len() int {
	return len(d.Rows)
}

// ReadDataset loads a delimited file with a header row.
func ReadDataset(path string, opts DatasetOptions) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open dataset %s", path)
	}
	defer f.Close()

	ds, err := DecodeDataset(f, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "read dataset %s", path)
	}
	return ds, nil
}

// DecodeDataset parses a delimited stream. Rows whose field count differs
// from the header are an error.
func DecodeDataset(r io.Reader, opts DatasetOptions) (*Dataset, error) {
	dec, err := charsetDecoder(opts.Charset)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(transform.NewReader(r, dec))
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.Wrap(ErrEmptyDataset, "no header row")
	}
	if err != nil {
		return nil, eris.Wrap(err, "read header")
	}
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, eris.Errorf("header column %d is empty", i+1)
		}
		if seen[name] {
			return nil, eris.Errorf("duplicate header column %q", name)
		}
		seen[name] = true
		columns[i] = name
	}

	ds := &Dataset{Columns: columns}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read row")
		}
		line, _ := reader.FieldPos(0)
		ds.Rows = append(ds.Rows, record)
		ds.Lines = append(ds.Lines, line)
	}
	return ds, nil
}

func charsetDecoder(charset string) (transform.Transformer, error) {
	fallback := unicode.UTF8.NewDecoder()
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
	default:
		enc, err := ianaindex.IANA.Encoding(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "charset %q", charset)
		}
		if enc == nil {
			return nil, eris.Errorf("charset %q is not supported", charset)
		}
		fallback = enc.NewDecoder()
	}
	return unicode.BOMOverride(fallback), nil
}
