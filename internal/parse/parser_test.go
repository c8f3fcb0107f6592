package parse

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/ingest"
)

var (
	metal = ingest.Target{
		Key:   "gold",
		Kind:  ingest.KindMetal,
		Range: ingest.Range{Min: 0.001, Max: 100000},
	}
	currency = ingest.Target{
		Key:   "usdidr",
		Kind:  ingest.KindCurrency,
		Range: ingest.Range{Min: 10000, Max: 25000},
	}
)

func TestParse(t *testing.T) {
	t.Parallel()

	p := New(zap.NewNop())
	testCases := []struct {
		name   string
		raw    string
		target ingest.Target
		want   float64
		ok     bool
	}{
		{"metal decimal insertion", "293540", metal, 2935.40, true},
		{"metal with separators", "2,935.40", metal, 2935.40, true},
		{"metal with dollar", "$5,156.30", metal, 5156.30, true},
		{"metal below range", "0.0001", metal, 0, false},
		{"metal short without point", "512", metal, 512, true},
		{"currency with separators", "15,750.50", currency, 15750.50, true},
		{"currency below range", "9999", currency, 0, false},
		{"currency no decimal insertion", "15750", currency, 15750, true},
		{"currency with nbsp", "15\u00a0750.50", currency, 15750.50, true},
		{"garbage", "N/A", metal, 0, false},
		{"empty", "   ", metal, 0, false},
		{"nan", "NaN", currency, 0, false},
		{"inf", "+Inf", currency, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := p.Parse(tc.raw, tc.target)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2935.40", Normalize("293540", ingest.KindMetal))
	require.Equal(t, "293540", Normalize("293540", ingest.KindCurrency))
	require.Equal(t, "4.51", Normalize(" 4.51 USD ", ingest.KindMetal))
	require.Equal(t, "16250", Normalize("Rp 16,250", ingest.KindCurrency))
	require.Equal(t, "-1.5", Normalize("\u22121.5", ingest.KindMetal))
}

func FuzzParse(f *testing.F) {
	for _, seed := range []string{"293540", "2,935.40", "", "$", "..", "1e309", " "} {
		f.Add(seed)
	}
	p := New(nil)
	f.Fuzz(func(t *testing.T, raw string) {
		for _, target := range []ingest.Target{metal, currency} {
			v, ok := p.Parse(raw, target)
			if ok && !target.Range.Contains(v) {
				t.Fatalf("Parse(%q) accepted %v outside %+v", raw, v, target.Range)
			}
		}
	})
}
