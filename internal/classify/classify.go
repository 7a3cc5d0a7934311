// Package classify maps measured probe latency to a speed category.
package classify

import "github.com/JakeFAU/proxy-harvester/internal/proxy"

// Category boundaries in milliseconds. Intervals are half-open.
const (
	FastBelowMs   int64 = 500
	MediumBelowMs int64 = 2000
)

// Latency returns the category for a latency in milliseconds.
func Latency(ms int64) proxy.Category {
	switch {
	case ms < FastBelowMs:
		return proxy.CategoryFast
	case ms < MediumBelowMs:
		return proxy.CategoryMedium
	default:
		return proxy.CategorySlow
	}
}
