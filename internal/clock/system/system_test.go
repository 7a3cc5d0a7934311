package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

func TestClockStampsUTC(t *testing.T) {
	t.Parallel()

	var clock proxy.Clock = New()
	before := time.Now()
	got := clock.Now()

	require.Equal(t, time.UTC, got.Location())
	require.WithinDuration(t, before, got, time.Second)
	require.False(t, clock.Now().Before(got))
}
