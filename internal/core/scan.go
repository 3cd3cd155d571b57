package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ScanOptions carries the structural metadata a full scan needs.
type ScanOptions struct {
	Delimiter  rune
	Quote      rune // 0 when the file has no quote character
	Newline    string
	HasHeader  bool
	NullString string

	// Accumulate merges a value into its column's running type.
	// Defaults to AccumulateType.
	Accumulate func(value string, current ColumnType) ColumnType

	// Progress, when set, is called with bytes read and the total size
	// (0 if unknown) every progressEvery records.
	Progress func(read, total int64)
}

// ScanOptionsFrom builds scan options from a sniff result.
func ScanOptionsFrom(sr *SniffResult, nullString string) ScanOptions {
	return ScanOptions{
		Delimiter:  sr.Delimiter,
		Quote:      sr.Quote,
		Newline:    sr.Newline,
		HasHeader:  sr.HasHeader,
		NullString: nullString,
	}
}

const progressEvery = 10000

// ScanFile runs Scan over the file at path.
func ScanFile(ctx context.Context, path string, opts ScanOptions) (*FileShape, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var total int64
	if info, err := f.Stat(); err == nil {
		total = info.Size()
	}
	return scan(ctx, f, total, opts)
}

// Scan makes a single sequential pass over r and computes the file's shape:
// the column-count histogram, the accumulated type of every column position
// and an upper bound on the row count.
//
// A row the tokenizer cannot parse cleanly is recorded under its observed
// length. Only I/O errors and cancellation abort the scan; the Importer
// reports them as ErrScanFailed. Input without a single non-blank record
// yields a shape with zero Rows and ColumnCount.
func Scan(ctx context.Context, r io.Reader, opts ScanOptions) (*FileShape, error) {
	return scan(ctx, r, 0, opts)
}

func scan(ctx context.Context, r io.Reader, total int64, opts ScanOptions) (*FileShape, error) {
	if err := validateDelimiter(opts.Delimiter, opts.Quote); err != nil {
		return nil, err
	}
	accumulate := opts.Accumulate
	if accumulate == nil {
		accumulate = AccumulateType
	}

	streams := wrapForScan(r, total, opts.Quote, opts.Newline)

	histogram := make(map[int]int64)
	var types []ColumnType

	rows, err := scanRecords(ctx, streams.out, opts.Delimiter, func(n int64, record []string) {
		histogram[len(record)]++

		if opts.Progress != nil && n%progressEvery == 0 {
			opts.Progress(streams.progress.BytesRead, total)
		}
		if opts.HasHeader && n == 1 {
			return
		}
		for len(types) < len(record) {
			types = append(types, TypeUnknown)
		}
		for i, v := range record {
			v = strings.TrimSpace(v)
			if v == "" || v == opts.NullString {
				continue
			}
			types[i] = accumulate(v, types[i])
		}
	})
	if err != nil {
		return nil, err
	}

	if opts.Progress != nil {
		opts.Progress(streams.progress.BytesRead, total)
	}
	count := CanonicalColumnCount(histogram)
	columnTypes := make([]ColumnType, count)
	copy(columnTypes, types)

	return &FileShape{
		ColumnCount:   count,
		ColumnTypes:   columnTypes,
		RowUpperBound: streams.terminators.Count() + 1,
		Rows:          rows,
		Histogram:     histogram,
	}, nil
}

// scanRecords tokenizes r and calls fn with the 1-based index of every
// non-blank record. The record slice is reused between calls. A row the
// tokenizer cannot parse cleanly is passed on with the fields it salvaged.
func scanRecords(ctx context.Context, r io.Reader, delim rune, fn func(n int64, record []string)) (int64, error) {
	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	// Trimming would swallow empty fields between whitespace delimiters.
	reader.TrimLeadingSpace = !unicode.IsSpace(delim)
	reader.ReuseRecord = true

	var rows int64
	for {
		if rows%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return rows, err
			}
		}

		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return rows, fmt.Errorf("read row %d: %w", rows+1, err)
			}
		}
		if isBlankRecord(record) {
			continue
		}
		rows++
		fn(rows, record)
	}
}

// CanonicalColumnCount returns the row length with the highest frequency.
// Ties go to the smallest length so repeated scans agree.
func CanonicalColumnCount(histogram map[int]int64) int {
	best, bestFreq := 0, int64(-1)
	for length, freq := range histogram {
		if freq > bestFreq || (freq == bestFreq && length < best) {
			best, bestFreq = length, freq
		}
	}
	return best
}

// isBlankRecord reports whether a record came from an empty or
// whitespace-only line.
func isBlankRecord(record []string) bool {
	return len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "")
}

func validateDelimiter(delim, quote rune) error {
	switch delim {
	case 0, '\r', '\n', '"', neutralQuote:
		return fmt.Errorf("invalid delimiter %q", delim)
	}
	// The quote is swapped byte-for-byte with '"' before tokenizing.
	switch {
	case quote >= utf8.RuneSelf:
		return fmt.Errorf("quote %q is not a single-byte character", quote)
	case quote == '\r' || quote == '\n' || quote == neutralQuote:
		return fmt.Errorf("invalid quote %q", quote)
	}
	if quote != 0 && delim == quote {
		return fmt.Errorf("delimiter and quote are both %q", delim)
	}
	return nil
}
