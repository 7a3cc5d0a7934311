package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

func TestProxyStoreUpsertOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewProxyStore()
	first := proxy.Record{IP: "1.2.3.4", Port: 8080, LatencyMs: 900, Category: proxy.CategoryMedium, CheckedAt: time.Unix(1, 0)}
	other := proxy.Record{IP: "5.6.7.8", Port: 3128, LatencyMs: 100, Category: proxy.CategoryFast}
	second := first
	second.LatencyMs = 120
	second.Category = proxy.CategoryFast

	require.NoError(t, store.Upsert(ctx, first))
	require.NoError(t, store.Upsert(ctx, other))
	require.NoError(t, store.Upsert(ctx, second))

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Equal(t, []proxy.Record{second, other}, all)
	require.NoError(t, store.Close())
}
