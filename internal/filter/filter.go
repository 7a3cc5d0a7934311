// Package filter selects validated proxies matching a filter snapshot.
package filter

import (
	"strings"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// Matches reports whether rec passes every rule of cfg.
func Matches(rec proxy.Record, cfg proxy.FilterConfig) bool {
	cfg = cfg.Normalize()
	if cfg.Country != "" && !strings.EqualFold(cfg.Country, rec.Country) {
		return false
	}
	if cfg.Anonymity != proxy.FilterAll && proxy.Anonymity(cfg.Anonymity) != rec.Anonymity {
		return false
	}
	if cfg.Speed != proxy.FilterAll && proxy.Category(cfg.Speed) != rec.Category {
		return false
	}
	return true
}

// Apply re-tests every record and returns a new slice of the matches in input order.
func Apply(records []proxy.Record, cfg proxy.FilterConfig) []proxy.Record {
	out := make([]proxy.Record, 0, len(records))
	for _, rec := range records {
		if Matches(rec, cfg) {
			out = append(out, rec)
		}
	}
	return out
}
