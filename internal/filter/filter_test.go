package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

func sampleRecords() []proxy.Record {
	return []proxy.Record{
		{IP: "1.1.1.1", Port: 80, Country: "de", Anonymity: proxy.AnonymityElite, Category: proxy.CategoryFast},
		{IP: "2.2.2.2", Port: 80, Country: "FR", Anonymity: proxy.AnonymityAnonymous, Category: proxy.CategoryMedium},
		{IP: "3.3.3.3", Port: 80, Country: "DE", Anonymity: proxy.AnonymityTransparent, Category: proxy.CategorySlow},
	}
}

func TestMatchesCountryCaseInsensitive(t *testing.T) {
	t.Parallel()

	recs := sampleRecords()
	cfg := proxy.FilterConfig{Country: "DE"}
	require.True(t, Matches(recs[0], cfg))
	require.False(t, Matches(recs[1], cfg))
	require.True(t, Matches(recs[2], cfg))
}

func TestMatchesRules(t *testing.T) {
	t.Parallel()

	recs := sampleRecords()
	tests := []struct {
		name string
		cfg  proxy.FilterConfig
		want []bool
	}{
		{"zero value passes all", proxy.FilterConfig{}, []bool{true, true, true}},
		{"all keywords pass all", proxy.FilterConfig{Anonymity: "all", Speed: "all"}, []bool{true, true, true}},
		{"anonymity", proxy.FilterConfig{Anonymity: "elite"}, []bool{true, false, false}},
		{"speed", proxy.FilterConfig{Speed: "medium"}, []bool{false, true, false}},
		{"combined", proxy.FilterConfig{Country: "de", Speed: "slow"}, []bool{false, false, true}},
	}
	for _, tt := range tests {
		for i, rec := range recs {
			require.Equal(t, tt.want[i], Matches(rec, tt.cfg), "%s record %d", tt.name, i)
		}
	}
}

func TestApplyIdempotent(t *testing.T) {
	t.Parallel()

	recs := sampleRecords()
	cfg := proxy.FilterConfig{Country: "de"}
	once := Apply(recs, cfg)
	twice := Apply(once, cfg)
	require.Equal(t, once, twice)
	require.Len(t, once, 2)
	require.Equal(t, Apply(recs, cfg), once)
}
