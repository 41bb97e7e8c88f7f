package table

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"7":                    "7",
		"07":                   "7",
		" 7 ":                  "7",
		"7.0":                  "7",
		`"7"`:                  "7",
		"+7":                   "7",
		"7.5":                  "7.5",
		"DM1":                  "DM1",
		"  DM1\t":              "DM1",
		"":                     "",
		"   ":                  "",
		"Cafe\u0301":           "Caf\u00e9",
		"12345678901234567890": "12345678901234567890",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeKey(in), "input %q", in)
	}
}

func TestCompareKeys_NumericBeforeText(t *testing.T) {
	keys := []string{"B", "10", "2", "A", "100"}
	sort.Slice(keys, func(i, j int) bool { return CompareKeys(keys[i], keys[j]) < 0 })
	assert.Equal(t, []string{"2", "10", "100", "A", "B"}, keys)
}

func TestParseValue(t *testing.T) {
	v, na, err := ParseValue(" 1.25 ")
	require.NoError(t, err)
	assert.False(t, na)
	assert.Equal(t, 1.25, v)

	for _, cell := range []string{"", "NA", "nan", "NaN", "null", "N/A", "<NA>"} {
		_, na, err := ParseValue(cell)
		require.NoError(t, err, cell)
		assert.True(t, na, cell)
	}

	_, _, err = ParseValue("high")
	require.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "0.1", FormatValue(0.1))
	assert.Equal(t, "3", FormatValue(3))
	assert.Equal(t, "1e-05", FormatValue(0.00001))
}
