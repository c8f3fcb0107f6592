package browser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFlag(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw  string
		want Flag
		ok   bool
	}{
		{"--no-sandbox", Flag{Name: "no-sandbox"}, true},
		{"--js-flags=--max-old-space-size=256", Flag{Name: "js-flags", Value: "--max-old-space-size=256"}, true},
		{"proxy-server=http://127.0.0.1:8080", Flag{Name: "proxy-server", Value: "http://127.0.0.1:8080"}, true},
		{"  ", Flag{}, false},
		{"--", Flag{}, false},
	}

	for _, tc := range testCases {
		got, ok := ParseFlag(tc.raw)
		require.Equal(t, tc.ok, ok, tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
	}
}

func TestLaunchFlagsOverridesDefaults(t *testing.T) {
	t.Parallel()

	flags := LaunchFlags([]string{"--renderer-process-limit=4", "--lang=en-US", "--lang=id-ID"})
	require.Len(t, flags, len(lowMemoryFlags)+1)

	byName := make(map[string]string, len(flags))
	for _, f := range flags {
		byName[f.Name] = f.Value
	}
	require.Equal(t, "4", byName["renderer-process-limit"])
	require.Equal(t, "id-ID", byName["lang"])
	require.Equal(t, Flag{Name: "lang", Value: "id-ID"}, flags[len(flags)-1])
	require.Contains(t, byName, "disable-dev-shm-usage")
}

func TestLaunchFlagsDefaults(t *testing.T) {
	t.Parallel()

	require.Equal(t, lowMemoryFlags, LaunchFlags(nil))
}
