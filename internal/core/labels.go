package core

import (
	"strconv"
	"strings"
	"unicode"
)

// LabelGenerator produces the default label for the 1-indexed column i.
type LabelGenerator func(i int) string

// LabelNormalizer rewrites a raw label into a database-friendly form.
type LabelNormalizer func(label string) string

// DefaultLabel names column i "c<i>".
func DefaultLabel(i int) string {
	return "c" + strconv.Itoa(i)
}

// NormalizeLabel lowercases label, replaces every whitespace rune with '_'
// and drops single and double quotes.
func NormalizeLabel(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	for _, r := range strings.ToLower(label) {
		switch {
		case r == '\'' || r == '"':
		case unicode.IsSpace(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ReconcileLabels turns provisional labels into exactly nrCols unique,
// non-empty labels:
//
//  1. labels is truncated or padded to nrCols; gaps are filled by gen
//  2. every label is normalized and trimmed; blanks fall back to gen
//  3. repeats get a "(n)" suffix, n counting from 1, so the first
//     occurrence keeps its name
//
// The function is pure; identical inputs always give identical output.
func ReconcileLabels(labels []string, nrCols int, gen LabelGenerator, norm LabelNormalizer) []string {
	if gen == nil {
		gen = DefaultLabel
	}
	if norm == nil {
		norm = NormalizeLabel
	}
	if nrCols < 0 {
		nrCols = 0
	}

	out := make([]string, nrCols)
	for i := range out {
		var label string
		if i < len(labels) {
			label = labels[i]
		} else {
			label = gen(i + 1)
		}

		label = strings.TrimSpace(norm(label))
		if label == "" {
			label = gen(i + 1)
		}
		out[i] = label
	}

	return dedupeLabels(out)
}

// dedupeLabels suffixes repeated labels left to right. A suffixed name
// that collides with a label already taken keeps counting up.
func dedupeLabels(labels []string) []string {
	taken := make(map[string]bool, len(labels))
	next := make(map[string]int, len(labels))

	for i, label := range labels {
		if !taken[label] {
			taken[label] = true
			next[label] = 1
			continue
		}

		n := next[label]
		if n == 0 {
			n = 1
		}
		candidate := label + "(" + strconv.Itoa(n) + ")"
		for taken[candidate] {
			n++
			candidate = label + "(" + strconv.Itoa(n) + ")"
		}
		next[label] = n + 1
		taken[candidate] = true
		labels[i] = candidate
	}
	return labels
}
