package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	t.Parallel()

	const full = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	cases := []struct {
		name   string
		hasher *Hasher
		want   string
	}{
		{name: "full", hasher: New(), want: full},
		{name: "truncated", hasher: NewTruncated(12), want: full[:12]},
		{name: "oversized truncation", hasher: NewTruncated(100), want: full},
		{name: "zero truncation", hasher: NewTruncated(0), want: full},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.hasher.Hash([]byte("hello world"))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestHashRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := New().Hash(nil)
	require.Error(t, err)
}
