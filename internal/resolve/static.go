package resolve

import (
	"context"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// StaticCountry always answers Code, or Err when set.
type StaticCountry struct {
	Code string
	Err  error
}

// ResolveCountry implements proxy.CountryResolver.
func (s StaticCountry) ResolveCountry(context.Context, string) (string, error) {
	return s.Code, s.Err
}

// StaticAnonymity always answers Level, or Err when set.
type StaticAnonymity struct {
	Level proxy.Anonymity
	Err   error
}

// ResolveAnonymity implements proxy.AnonymityResolver.
func (s StaticAnonymity) ResolveAnonymity(context.Context, proxy.ProbeResult) (proxy.Anonymity, error) {
	return s.Level, s.Err
}
