package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	const full = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

	testCases := []struct {
		name   string
		length int
		want   string
	}{
		{"full digest", 0, full},
		{"truncated", 12, full[:12]},
		{"longer than digest", 100, full},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := New(tc.length)
			require.Equal(t, tc.want, h.Hash([]byte("hello world")))
			require.Equal(t, h.Hash([]byte("hello world")), h.Hash([]byte("hello world")))
		})
	}
}
