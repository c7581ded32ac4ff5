package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "decimal", input: "1.50", want: "1.5"},
		{name: "surrounding whitespace", input: " 0.063 ", want: "0.063"},
		{name: "empty", input: "  ", wantErr: ErrEmpty},
		{name: "garbage", input: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.want == "" {
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParsePositive(t *testing.T) {
	_, err := ParsePositive("0")
	assert.ErrorIs(t, err, ErrNotPositive)

	_, err = ParsePositive("-1")
	assert.ErrorIs(t, err, ErrNotPositive)

	a, err := ParsePositive("0.0001")
	require.NoError(t, err)
	assert.True(t, a.IsPositive())
}

func TestParseNonNegative(t *testing.T) {
	_, err := ParseNonNegative("-0.1")
	assert.ErrorIs(t, err, ErrNegative)

	a, err := ParseNonNegative("0")
	require.NoError(t, err)
	assert.True(t, a.IsZero())
}

func TestPercentChange(t *testing.T) {
	pct, ok := PercentChange(MustParse("100"), MustParse("88"))
	require.True(t, ok)
	assert.Equal(t, "-12", pct.String())

	_, ok = PercentChange(Zero, MustParse("1"))
	assert.False(t, ok)
}

func TestAmountJSON(t *testing.T) {
	var fromString, fromNumber Amount
	require.NoError(t, json.Unmarshal([]byte(`"0.063"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`0.063`), &fromNumber))
	assert.True(t, fromString.Equal(fromNumber))

	data, err := json.Marshal(MustParse("2.50"))
	require.NoError(t, err)
	assert.JSONEq(t, `"2.5"`, string(data))
}
