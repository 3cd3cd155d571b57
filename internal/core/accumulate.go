package core

import (
	"regexp"
	"strconv"
	"strings"
)

// integerRegex and floatRegex classify trimmed field values. They accept
// plain decimal notation only; hex, underscores, NaN and Inf are strings.
var (
	integerRegex = regexp.MustCompile(`^[+-]?\d+$`)
	floatRegex   = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
)

// ClassifyValue returns the narrowest type that can hold v.
// Blank values have no type.
func ClassifyValue(v string) ColumnType {
	v = strings.TrimSpace(v)
	if v == "" {
		return TypeUnknown
	}
	if integerRegex.MatchString(v) {
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			return TypeInteger
		}
		// Out of BIGINT range; still numeric.
		return TypeFloat
	}
	if floatRegex.MatchString(v) {
		return TypeFloat
	}
	return TypeString
}

// MergeTypes returns the supremum of a and b in the type lattice.
func MergeTypes(a, b ColumnType) ColumnType {
	if b > a {
		return b
	}
	return a
}

// AccumulateType folds a raw value into the running type of its column.
// Once a column is string it stays string for the rest of the scan.
func AccumulateType(value string, current ColumnType) ColumnType {
	if current == TypeString {
		return TypeString
	}
	return MergeTypes(current, ClassifyValue(value))
}
