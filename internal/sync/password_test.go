package sync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peteski22/dirsync/internal/config"
)

func TestGeneratePassword(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		length int
		want   int
	}{
		"default": {
			length: 0,
			want:   config.DefaultPasswordLength,
		},
		"minimum enforced": {
			length: 4,
			want:   minPasswordLength,
		},
		"exact minimum": {
			length: 8,
			want:   8,
		},
		"long": {
			length: 64,
			want:   64,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			for range 50 {
				pw, err := GeneratePassword(tc.length)
				require.NoError(t, err)

				plain := pw.Reveal()
				require.Len(t, plain, tc.want)
				require.True(t, strings.ContainsAny(plain, lowerChars))
				require.True(t, strings.ContainsAny(plain, upperChars))
				require.True(t, strings.ContainsAny(plain, digitChars))
				for _, c := range plain {
					require.True(t, strings.ContainsRune(passwordChars, c))
				}
			}
		})
	}
}

func TestGeneratePassword_IsRedacted(t *testing.T) {
	t.Parallel()

	pw, err := GeneratePassword(12)
	require.NoError(t, err)

	require.NotContains(t, pw.String(), pw.Reveal())
}

func TestReplaceablePosition(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		pw   string
		want int
	}{
		"trailing symbol": {
			pw:   "aB3!",
			want: 3,
		},
		"duplicate class at end": {
			pw:   "aB3cc",
			want: 4,
		},
		"unique classes skip to earlier duplicate": {
			pw:   "aaB3",
			want: 1,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, replaceablePosition([]byte(tc.pw)))
		})
	}
}
