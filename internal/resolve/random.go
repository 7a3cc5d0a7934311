// Package resolve maps validated proxies to a country and an anonymity level.
package resolve

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// DefaultCountries is the pool RandomCountry draws from.
var DefaultCountries = []string{"US", "DE", "UK", "FR", "CA", "JP", "RU", "CN", "IN", "BR"}

var defaultLevels = []proxy.Anonymity{proxy.AnonymityElite, proxy.AnonymityAnonymous, proxy.AnonymityTransparent}

// lockedRand serialises access to a *rand.Rand.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(src rand.Source) *lockedRand {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1|1)
	}
	return &lockedRand{rng: rand.New(src)}
}

func (l *lockedRand) intN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.IntN(n)
}

// RandomCountry is a placeholder resolver that picks a country uniformly at random.
// Its output carries no information about the proxy.
type RandomCountry struct {
	rng *lockedRand
}

// NewRandomCountry returns a RandomCountry. A nil src seeds from the clock.
func NewRandomCountry(src rand.Source) *RandomCountry {
	return &RandomCountry{rng: newLockedRand(src)}
}

// ResolveCountry implements proxy.CountryResolver.
func (r *RandomCountry) ResolveCountry(context.Context, string) (string, error) {
	return DefaultCountries[r.rng.intN(len(DefaultCountries))], nil
}

// RandomAnonymity is a placeholder resolver that picks a level uniformly at random.
type RandomAnonymity struct {
	rng *lockedRand
}

// NewRandomAnonymity returns a RandomAnonymity. A nil src seeds from the clock.
func NewRandomAnonymity(src rand.Source) *RandomAnonymity {
	return &RandomAnonymity{rng: newLockedRand(src)}
}

// ResolveAnonymity implements proxy.AnonymityResolver.
func (r *RandomAnonymity) ResolveAnonymity(context.Context, proxy.ProbeResult) (proxy.Anonymity, error) {
	return defaultLevels[r.rng.intN(len(defaultLevels))], nil
}
