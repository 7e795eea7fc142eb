package importing

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

// Record is one accepted data line keyed by normalised header names.
type Record map[string]string

type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

type CSVIngestor struct {
	fetcher Fetcher
}

func NewCSVIngestor(fetcher Fetcher) *CSVIngestor {
	return &CSVIngestor{fetcher: fetcher}
}

// Load fetches the file behind url and parses every data line. Any failure
// to obtain or read the content is reported as importjob.ErrFetch.
func (i *CSVIngestor) Load(ctx context.Context, url string) ([]Record, error) {
	body, err := i.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", importjob.ErrFetch, err)
	}
	defer body.Close()

	records, err := ParseCSV(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", importjob.ErrFetch, err)
	}
	return records, nil
}

// ParseCSV reads a header line followed by data lines. Lines whose field
// count differs from the header's are dropped without error.
func ParseCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(stripUTF8BOM(bufio.NewReader(r)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	keys := make([]string, len(header))
	for idx, cell := range header {
		keys[idx] = normalizeHeader(cell)
	}

	records := make([]Record, 0)
	for {
		line, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("read line: %w", err)
		}

		if len(line) != len(keys) {
			continue
		}

		rec := make(Record, len(keys))
		for idx, key := range keys {
			rec[key] = cleanValue(line[idx])
		}
		records = append(records, rec)
	}

	return records, nil
}

// normalizeHeader lower-cases a header cell and removes all whitespace, so
// "Price Each" becomes "priceeach".
func normalizeHeader(cell string) string {
	cell = strings.ReplaceAll(cell, `"`, "")
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, cell)
}

func cleanValue(v string) string {
	return strings.TrimSpace(strings.ReplaceAll(v, `"`, ""))
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}
