package table

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey maps the textual forms of one sample key onto a single value:
// surrounding whitespace and quotes are dropped, the text is NFC normalized,
// and integral numbers are rewritten in canonical base 10 ("07", "7.0" -> "7").
func NormalizeKey(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(norm.NFC.String(s))
	if s == "" {
		return ""
	}
	if i, ok := integral(s); ok {
		return i
	}
	return s
}

func integral(s string) (string, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", false
	}
	if f != math.Trunc(f) {
		return "", false
	}
	if math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10), true
	}
	// Beyond float precision keep digit strings exact.
	if n, ok := new(big.Int).SetString(strings.TrimLeft(s, "+"), 10); ok {
		return n.String(), true
	}
	return "", false
}

// CompareKeys orders normalized keys: integers numerically first, then the
// rest lexicographically.
func CompareKeys(a, b string) int {
	ai, aok := new(big.Int).SetString(a, 10)
	bi, bok := new(big.Int).SetString(b, 10)
	switch {
	case aok && bok:
		return ai.Cmp(bi)
	case aok:
		return -1
	case bok:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

var naTokens = map[string]struct{}{
	"": {}, "na": {}, "nan": {}, "n/a": {}, "null": {}, "none": {}, "<na>": {},
}

// IsNA reports whether a cell holds one of the missing-value tokens.
func IsNA(cell string) bool {
	_, ok := naTokens[strings.ToLower(strings.TrimSpace(cell))]
	return ok
}

// ParseValue parses a numeric cell. na is true for missing-value tokens.
func ParseValue(cell string) (v float64, na bool, err error) {
	if IsNA(cell) {
		return 0, true, nil
	}
	v, err = strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, false, fmt.Errorf("not a number: %q", cell)
	}
	if math.IsNaN(v) {
		return 0, true, nil
	}
	return v, false, nil
}

// FormatValue renders v with the shortest representation that round trips.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
