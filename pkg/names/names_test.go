package names

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"simple", "cpu", true},
		{"dotted", "cpu.total", true},
		{"colon", "node:cpu:rate", true},
		{"slash_dash", "disk/sda-1", true},
		{"underscore", "http_requests_total", true},
		{"digits", "q99", true},
		{"empty", "", false},
		{"hash", "cpu#total", false},
		{"semicolon", "cpu;total", false},
		{"equals", "cpu=total", false},
		{"space", "cpu total", false},
		{"unicode", "cpuß", false},
		{"leading_dot", ".cpu", false},
		{"trailing_dot", "cpu.", false},
		{"max_len", strings.Repeat("a", MaxLen), true},
		{"too_long", strings.Repeat("a", MaxLen+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)
			if tt.ok {
				require.NoError(t, err)
				require.True(t, Valid(tt.input))
			} else {
				require.ErrorIs(t, err, ErrInvalidName)
				require.False(t, Valid(tt.input))
			}
		})
	}
}
