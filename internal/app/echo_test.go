package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proxy-harvester/internal/config"
	"github.com/JakeFAU/proxy-harvester/internal/validate"
)

func TestEchoURLFollowsAnonymityResolver(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		anonymity string
		echo      string
		want      string
	}{
		{"random keeps default", config.ResolverRandom, validate.DefaultEchoURL, validate.DefaultEchoURL},
		{"headers needs request headers", config.ResolverHeaders, validate.DefaultEchoURL, validate.HeaderEchoURL},
		{"headers keeps explicit url", config.ResolverHeaders, "http://echo.internal/anything", "http://echo.internal/anything"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var cfg config.Config
			cfg.Resolve.Anonymity = tc.anonymity
			cfg.Validation.EchoURL = tc.echo
			require.Equal(t, tc.want, (&App{cfg: cfg}).echoURL())
		})
	}
}
