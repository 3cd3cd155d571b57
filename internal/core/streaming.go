package core

// streaming.go provides streaming readers for the full-file scan.
//
// These readers wrap io.Reader so the scan never holds more than a buffer
// of the file in memory:
//
//   - TerminatorCounter: counts line terminators on the raw bytes
//   - BOMSkippingReader: removes a UTF-8 BOM left by Windows tools
//   - StreamingUTF8Sanitizer: replaces invalid UTF-8 sequences with '?'
//   - StreamingCountingReader: tracks bytes read for progress reporting
//   - dialectReader: maps the sniffed quote and newline onto what
//     encoding/csv understands
//
// Use wrapForScan to apply all transforms in the correct order.

import (
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TerminatorCounter counts line terminators in the bytes flowing through it.
// "\r\n" counts once; a lone '\n' or '\r' each count once. The count does
// not depend on field parsing, so it never undercounts rows.
type TerminatorCounter struct {
	reader io.Reader
	count  int64
	lastCR bool
}

// NewTerminatorCounter wraps r.
func NewTerminatorCounter(r io.Reader) *TerminatorCounter {
	return &TerminatorCounter{reader: r}
}

// Read implements io.Reader.
func (c *TerminatorCounter) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	for _, b := range p[:n] {
		switch b {
		case '\n':
			if !c.lastCR {
				c.count++
			}
			c.lastCR = false
		case '\r':
			c.count++
			c.lastCR = true
		default:
			c.lastCR = false
		}
	}
	return n, err
}

// Count returns the number of terminators seen so far.
func (c *TerminatorCounter) Count() int64 {
	return c.count
}

// StreamingUTF8Sanitizer wraps an io.Reader and replaces invalid UTF-8
// sequences with '?' on the fly.
type StreamingUTF8Sanitizer struct {
	reader io.Reader

	// Leftover bytes from previous read that may form a multi-byte sequence
	pending []byte
}

// NewStreamingUTF8Sanitizer creates a new streaming UTF-8 sanitizer.
func NewStreamingUTF8Sanitizer(r io.Reader) *StreamingUTF8Sanitizer {
	return &StreamingUTF8Sanitizer{
		reader:  r,
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

// Read implements io.Reader.
func (s *StreamingUTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	if isAllASCII(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

func isAllASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// sanitize rewrites data in place and returns the number of bytes to keep.
// Unless atEOF, a trailing incomplete sequence is held back in pending.
func (s *StreamingUTF8Sanitizer) sanitize(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		if !atEOF && !utf8.FullRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			// '?' keeps the rewrite in place; U+FFFD would need 3 bytes.
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	reader     io.Reader
	bomChecked bool
	head       []byte
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: r}
}

// Read implements io.Reader.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.bomChecked {
		r.bomChecked = true

		buf := make([]byte, len(utf8BOM))
		n, err := io.ReadFull(r.reader, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, err
		}
		if n == len(utf8BOM) && buf[0] == utf8BOM[0] && buf[1] == utf8BOM[1] && buf[2] == utf8BOM[2] {
			n = 0
		}
		r.head = buf[:n]
	}

	if len(r.head) > 0 {
		copied := copy(p, r.head)
		r.head = r.head[copied:]
		return copied, nil
	}
	return r.reader.Read(p)
}

// StreamingCountingReader wraps an io.Reader to track bytes read.
type StreamingCountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 if unknown
}

// NewStreamingCountingReader creates a counting reader with optional total size.
func NewStreamingCountingReader(r io.Reader, total int64) *StreamingCountingReader {
	return &StreamingCountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *StreamingCountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *StreamingCountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	p := int(r.BytesRead * 100 / r.Total)
	if p > 100 {
		p = 100
	}
	return p
}

// neutralQuote replaces '"' when a file has no quote character, so that
// encoding/csv treats every byte literally. Type inference is unaffected:
// a value containing either byte is a string.
const neutralQuote = 0x1F

// dialectReader rewrites bytes so that a file using quote and newline can
// be tokenized by encoding/csv, which only knows '"' and "\n"/"\r\n".
// It swaps quote with '"', and a bare '\r' newline becomes '\n'.
type dialectReader struct {
	reader  io.Reader
	table   [256]byte
	mapping bool
}

func newDialectReader(r io.Reader, quote rune, newline string) io.Reader {
	d := &dialectReader{reader: r}
	for i := range d.table {
		d.table[i] = byte(i)
	}

	switch {
	case quote == 0:
		d.table['"'] = neutralQuote
		d.mapping = true
	case quote != '"' && quote < utf8.RuneSelf:
		d.table[byte(quote)] = '"'
		d.table['"'] = byte(quote)
		d.mapping = true
	}
	if newline == "\r" {
		d.table['\r'] = '\n'
		d.mapping = true
	}

	if !d.mapping {
		return r
	}
	return d
}

func (d *dialectReader) Read(p []byte) (int, error) {
	n, err := d.reader.Read(p)
	for i := 0; i < n; i++ {
		p[i] = d.table[p[i]]
	}
	return n, err
}

// scanReaders exposes the counters of a wrapped scan stream.
type scanReaders struct {
	terminators *TerminatorCounter
	progress    *StreamingCountingReader
	out         io.Reader
}

// wrapForScan applies the scan transforms in order:
//  1. terminators are counted on the raw bytes
//  2. the BOM is stripped before any other processing
//  3. UTF-8 is sanitized
//  4. bytes are counted for progress
//  5. quote and newline are mapped for the tokenizer
func wrapForScan(r io.Reader, totalSize int64, quote rune, newline string) *scanReaders {
	terminators := NewTerminatorCounter(r)
	sanitized := NewStreamingUTF8Sanitizer(NewBOMSkippingReader(terminators))
	progress := NewStreamingCountingReader(sanitized, totalSize)
	return &scanReaders{
		terminators: terminators,
		progress:    progress,
		out:         newDialectReader(progress, quote, newline),
	}
}
