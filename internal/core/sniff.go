package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Sniffer infers structural metadata from a sample and supplies the
// per-value type accumulation used by the full scan.
type Sniffer interface {
	Sniff(sample []byte, opts SniffOptions) (*SniffResult, error)
	AccumulateType(value string, current ColumnType) ColumnType
}

// SniffOptions constrains or overrides detection. Zero values mean
// "detect".
type SniffOptions struct {
	// Delimiters are the candidate delimiters, in order of preference.
	Delimiters []rune `json:"delimiters,omitempty"`

	Delimiter rune   `json:"delimiter,omitempty"`
	Quote     rune   `json:"quote,omitempty"`
	Newline   string `json:"newline,omitempty"`
	HasHeader *bool  `json:"has_header,omitempty"`

	// Truncated marks a sample that stops before EOF; its last line is
	// incomplete and ignored.
	Truncated bool `json:"-"`
}

// DefaultDelimiters are tried when SniffOptions.Delimiters is empty.
var DefaultDelimiters = []rune{',', ';', '\t', '|'}

var quoteCandidates = []rune{'"', '\''}

// DefaultSniffer is the built-in heuristic sniffer.
type DefaultSniffer struct{}

// AccumulateType implements Sniffer with the integer/float/string lattice.
func (DefaultSniffer) AccumulateType(value string, current ColumnType) ColumnType {
	return AccumulateType(value, current)
}

// Sniff implements Sniffer.
func (s DefaultSniffer) Sniff(sample []byte, opts SniffOptions) (*SniffResult, error) {
	sample = bytes.TrimPrefix(sample, utf8BOM)
	if !utf8.Valid(sample) {
		sample = bytes.ToValidUTF8(sample, []byte("?"))
	}
	text := string(sample)

	newline := opts.Newline
	if newline == "" {
		newline = detectNewline(text)
	}

	lines := splitLines(text, newline)
	if opts.Truncated && len(lines) > 1 {
		lines = lines[:len(lines)-1]
	}
	lines = dropBlank(lines)
	if len(lines) == 0 {
		return nil, fmt.Errorf("sample contains no data")
	}

	quote := opts.Quote
	if quote == 0 {
		quote = detectQuote(lines)
	}

	delim := opts.Delimiter
	if delim == 0 {
		candidates := opts.Delimiters
		if len(candidates) == 0 {
			candidates = DefaultDelimiters
		}
		delim = detectDelimiter(lines, candidates, quote)
	}

	records, err := tokenizeSample(strings.Join(lines, "\n"), delim, quote)
	if err != nil {
		return nil, err
	}

	hasHeader := false
	if opts.HasHeader != nil {
		hasHeader = *opts.HasHeader
	} else {
		hasHeader = detectHeader(records, s.AccumulateType)
	}

	result := &SniffResult{
		Delimiter: delim,
		Quote:     quote,
		Newline:   newline,
		HasHeader: hasHeader,
		Records:   records,
	}

	body := records
	if hasHeader {
		result.Labels = append([]string(nil), records[0]...)
		body = records[1:]
	}
	result.Types = sampleTypes(body, s.AccumulateType)
	return result, nil
}

// detectNewline picks the most frequent terminator; "\r\n" wins ties.
func detectNewline(text string) string {
	crlf := strings.Count(text, "\r\n")
	lf := strings.Count(text, "\n") - crlf
	cr := strings.Count(text, "\r") - crlf

	switch {
	case crlf > 0 && crlf >= lf && crlf >= cr:
		return "\r\n"
	case cr > lf:
		return "\r"
	default:
		return "\n"
	}
}

func splitLines(text, newline string) []string {
	lines := strings.Split(text, newline)
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func dropBlank(lines []string) []string {
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// detectQuote returns the candidate seen most often at a field boundary,
// or 0 when none is.
func detectQuote(lines []string) rune {
	best, bestScore := rune(0), 0
	for _, q := range quoteCandidates {
		score := 0
		for _, l := range lines {
			score += boundaryQuotes(l, q)
		}
		if score > bestScore {
			best, bestScore = q, score
		}
	}
	return best
}

// boundaryQuotes counts q at the start or end of line, or next to a
// non-alphanumeric byte that could be a delimiter.
func boundaryQuotes(line string, q rune) int {
	n := 0
	for i, r := range line {
		if r != q {
			continue
		}
		if i == 0 || i == len(line)-1 {
			n++
			continue
		}
		prev, next := line[i-1], line[i+1]
		if isDelimiterByte(prev) || isDelimiterByte(next) {
			n++
		}
	}
	return n
}

func isDelimiterByte(b byte) bool {
	return strings.IndexByte(",;\t|: ", b) >= 0
}

// detectDelimiter scores candidates by how consistently they split lines.
// A candidate must occur on the first line. Earlier candidates win ties.
func detectDelimiter(lines []string, candidates []rune, quote rune) rune {
	best, bestScore := candidates[0], 0.0
	for _, c := range candidates {
		counts := make(map[int]int)
		for _, l := range lines {
			counts[countOutsideQuotes(l, c, quote)]++
		}
		first := countOutsideQuotes(lines[0], c, quote)
		if first == 0 {
			continue
		}

		mode, freq := 0, 0
		for n, f := range counts {
			if f > freq || (f == freq && n > mode) {
				mode, freq = n, f
			}
		}
		if mode == 0 {
			continue
		}
		score := float64(freq) / float64(len(lines))
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

func countOutsideQuotes(line string, delim, quote rune) int {
	n, inQuote := 0, false
	for _, r := range line {
		switch {
		case quote != 0 && r == quote:
			inQuote = !inQuote
		case r == delim && !inQuote:
			n++
		}
	}
	return n
}

// tokenizeSample splits sample text into records with the same tokenizer
// the full scan uses.
func tokenizeSample(text string, delim, quote rune) ([][]string, error) {
	if err := validateDelimiter(delim, quote); err != nil {
		return nil, err
	}
	streams := wrapForScan(strings.NewReader(text), 0, quote, "\n")
	var records [][]string
	_, err := scanRecords(context.Background(), streams.out, delim, func(_ int64, rec []string) {
		records = append(records, append([]string(nil), rec...))
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// detectHeader votes per column: a header cell that is text above numeric
// data, or whose length differs from uniformly sized data below, votes
// for a header. Without a decisive vote, a first row of distinct text
// values that never recur in their columns is taken as a header.
func detectHeader(records [][]string, accumulate func(string, ColumnType) ColumnType) bool {
	if len(records) < 2 {
		return false
	}
	header, body := records[0], records[1:]

	for _, h := range header {
		if ClassifyValue(h) != TypeString {
			return false
		}
	}

	votes := 0
	for i, h := range header {
		colType := TypeUnknown
		lengths := make(map[int]bool)
		for _, row := range body {
			if i >= len(row) {
				continue
			}
			colType = accumulate(row[i], colType)
			lengths[utf8.RuneCountInString(strings.TrimSpace(row[i]))] = true
		}

		switch {
		case colType == TypeInteger || colType == TypeFloat:
			votes++
		case colType == TypeString && len(lengths) == 1:
			if !lengths[utf8.RuneCountInString(strings.TrimSpace(h))] {
				votes++
			} else {
				votes--
			}
		}
	}
	if votes != 0 {
		return votes > 0
	}

	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if seen[h] {
			return false
		}
		seen[h] = true
		for _, row := range body {
			if i < len(row) && strings.TrimSpace(row[i]) == h {
				return false
			}
		}
	}
	return true
}

func sampleTypes(records [][]string, accumulate func(string, ColumnType) ColumnType) []ColumnType {
	var types []ColumnType
	for _, row := range records {
		for len(types) < len(row) {
			types = append(types, TypeUnknown)
		}
		for i, v := range row {
			if v = strings.TrimSpace(v); v != "" {
				types[i] = accumulate(v, types[i])
			}
		}
	}
	return types
}

// widestRecord returns the largest field count among records.
func widestRecord(records [][]string) int {
	n := 0
	for _, r := range records {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

// sniffJSON is the wire form of SniffResult; runes travel as strings.
type sniffJSON struct {
	Delimiter string       `json:"delimiter" yaml:"delimiter"`
	Quote     string       `json:"quote,omitempty" yaml:"quote,omitempty"`
	Newline   string       `json:"newline" yaml:"newline"`
	HasHeader bool         `json:"has_header" yaml:"has_header"`
	Labels    []string     `json:"labels" yaml:"labels"`
	Types     []ColumnType `json:"types" yaml:"types"`
}

func (r SniffResult) wire() sniffJSON {
	w := sniffJSON{
		Delimiter: string(r.Delimiter),
		Newline:   r.Newline,
		HasHeader: r.HasHeader,
		Labels:    r.Labels,
		Types:     r.Types,
	}
	if r.Quote != 0 {
		w.Quote = string(r.Quote)
	}
	return w
}

// MarshalJSON implements json.Marshaler.
func (r SniffResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *SniffResult) UnmarshalJSON(b []byte) error {
	var w sniffJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	delim, _ := utf8.DecodeRuneInString(w.Delimiter)
	if w.Delimiter == "" {
		delim = 0
	}
	var quote rune
	if w.Quote != "" {
		quote, _ = utf8.DecodeRuneInString(w.Quote)
	}
	*r = SniffResult{
		Delimiter: delim,
		Quote:     quote,
		Newline:   w.Newline,
		HasHeader: w.HasHeader,
		Labels:    w.Labels,
		Types:     w.Types,
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (r SniffResult) MarshalYAML() (any, error) {
	return r.wire(), nil
}
