package proxy

import (
	"fmt"
	"strings"
)

// FilterAll disables the anonymity or speed rule.
const FilterAll = "all"

// FilterConfig is an immutable filter snapshot taken when a filter is applied.
type FilterConfig struct {
	Country   string `json:"country" mapstructure:"country"`
	Anonymity string `json:"anonymity" mapstructure:"anonymity"`
	Speed     string `json:"speed" mapstructure:"speed"`
}

// Normalize fills empty enum fields with "all" and trims the country.
func (c FilterConfig) Normalize() FilterConfig {
	c.Country = strings.TrimSpace(c.Country)
	c.Anonymity = strings.ToLower(strings.TrimSpace(c.Anonymity))
	c.Speed = strings.ToLower(strings.TrimSpace(c.Speed))
	if c.Anonymity == "" {
		c.Anonymity = FilterAll
	}
	if c.Speed == "" {
		c.Speed = FilterAll
	}
	return c
}

// IsZero reports whether the filter lets every record through.
func (c FilterConfig) IsZero() bool {
	n := c.Normalize()
	return n.Country == "" && n.Anonymity == FilterAll && n.Speed == FilterAll
}

// Validate rejects unknown anonymity or speed values.
func (c FilterConfig) Validate() error {
	n := c.Normalize()
	switch Anonymity(n.Anonymity) {
	case AnonymityElite, AnonymityAnonymous, AnonymityTransparent:
	default:
		if n.Anonymity != FilterAll {
			return fmt.Errorf("filter.anonymity must be one of all, elite, anonymous, transparent")
		}
	}
	switch Category(n.Speed) {
	case CategoryFast, CategoryMedium, CategorySlow:
	default:
		if n.Speed != FilterAll {
			return fmt.Errorf("filter.speed must be one of all, fast, medium, slow")
		}
	}
	return nil
}
