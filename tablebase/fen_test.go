package tablebase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tablecache/errors"
)

func TestNormalizeFEN(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{
			name:  "full fen unchanged",
			input: "4k3/8/8/8/8/8/8/4K2R w K - 0 1",
			want:  "4k3/8/8/8/8/8/8/4K2R w K - 0 1",
		},
		{
			name:  "missing clocks",
			input: "8/8/8/8/8/8/k7/K6Q b - -",
			want:  "8/8/8/8/8/8/k7/K6Q b - - 0 1",
		},
		{
			name:  "missing fullmove",
			input: "8/8/8/8/8/8/k7/K6Q b - - 12",
			want:  "8/8/8/8/8/8/k7/K6Q b - - 12 1",
		},
		{
			name:  "extra whitespace collapsed",
			input: "  8/8/8/8/8/8/k7/K6Q   w  -  -  3  40 ",
			want:  "8/8/8/8/8/8/k7/K6Q w - - 3 40",
		},
		{
			name:  "seven pieces allowed",
			input: "4k3/ppppp3/8/8/8/8/8/4K3 w - - 0 1",
			want:  "4k3/ppppp3/8/8/8/8/8/4K3 w - - 0 1",
		},
		{
			name:  "en passant square",
			input: "4k3/8/8/3pP3/8/8/8/4K3 w - d6 0 2",
			want:  "4k3/8/8/3pP3/8/8/8/4K3 w - d6 0 2",
		},
		{name: "empty", input: "", wantErr: "expected 4 to 6 fields"},
		{name: "too many fields", input: "4k3/8/8/8/8/8/8/4K3 w - - 0 1 x", wantErr: "expected 4 to 6 fields"},
		{name: "seven ranks", input: "4k3/8/8/8/8/8/4K3 w - - 0 1", wantErr: "expected 8 ranks"},
		{name: "short rank", input: "4k3/8/8/8/8/8/7/4K3 w - - 0 1", wantErr: "has 7 squares"},
		{name: "bad piece", input: "4k3/8/8/8/8/8/8/4X2K w - - 0 1", wantErr: "invalid character"},
		{name: "missing king", input: "8/8/8/8/8/8/8/4K3 w - - 0 1", wantErr: "exactly one king"},
		{
			name:    "starting position has too many pieces",
			input:   "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
			wantErr: "too many pieces",
		},
		{name: "bad side", input: "4k3/8/8/8/8/8/8/4K3 x - - 0 1", wantErr: "side to move"},
		{name: "bad castling", input: "4k3/8/8/8/8/8/8/4K3 w KX - 0 1", wantErr: "castling"},
		{name: "bad en passant", input: "4k3/8/8/8/8/8/8/4K3 w - e4 0 1", wantErr: "en passant"},
		{name: "negative halfmove", input: "4k3/8/8/8/8/8/8/4K3 w - - -1 1", wantErr: "halfmove"},
		{name: "zero fullmove", input: "4k3/8/8/8/8/8/8/4K3 w - - 0 0", wantErr: "fullmove"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeFEN(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, errors.IsInvalid(err))
				assert.ErrorIs(t, err, errors.ErrInvalidData)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeFEN_Idempotent(t *testing.T) {
	once, err := NormalizeFEN("8/8/8/8/8/8/k7/K6Q w - -")
	require.NoError(t, err)
	twice, err := NormalizeFEN(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}
