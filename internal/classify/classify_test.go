package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

func TestLatencyBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ms   int64
		want proxy.Category
	}{
		{0, proxy.CategoryFast},
		{300, proxy.CategoryFast},
		{499, proxy.CategoryFast},
		{500, proxy.CategoryMedium},
		{1999, proxy.CategoryMedium},
		{2000, proxy.CategorySlow},
		{12000, proxy.CategorySlow},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Latency(tt.ms), "latency %dms", tt.ms)
	}
}
