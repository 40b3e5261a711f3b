package datanorm

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fundbridge/merchant-staging/internal/domain"
)

var (
	ErrEmptyFile          = errors.New("file is empty")
	ErrNoRecognizedHeader = errors.New("no recognized column headers")
)

// CSVReader streams canonical, normalized records out of an uploaded CSV.
type CSVReader struct {
	reader  *csv.Reader
	mapping *HeaderMap
	line    int
}

// NewCSVReader reads the header row and resolves it against the canonical
// vocabulary. The first row is always treated as headers.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrEmptyFile
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	mapping := MapHeaders(header)
	if mapping.Mapped() == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoRecognizedHeader, header)
	}
	return &CSVReader{reader: reader, mapping: mapping, line: 1}, nil
}

// Mapping exposes the resolved header mapping.
func (c *CSVReader) Mapping() *HeaderMap { return c.mapping }

// Next returns the next non-blank row as normalized Fields, or io.EOF.
func (c *CSVReader) Next() (domain.Fields, error) {
	for {
		row, err := c.reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("line %d: %w", c.line+1, err)
		}
		c.line++
		if blankRow(row) {
			continue
		}
		return NormalizeFields(c.mapping.Record(row)), nil
	}
}

// ReadAll drains the reader.
func (c *CSVReader) ReadAll() ([]domain.Fields, error) {
	var out []domain.Fields
	for {
		f, err := c.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// stripBOM wraps a reader to strip a UTF-8 BOM if present.
func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, 3)
	n, err := io.ReadFull(r, buf)
	if err != nil || n < 3 {
		return io.MultiReader(strings.NewReader(string(buf[:n])), r)
	}
	if buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF {
		return r
	}
	return io.MultiReader(strings.NewReader(string(buf[:n])), r)
}
