package pipeline

import (
	"sort"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// Share is one bucket of a distribution.
type Share struct {
	Key     string  `json:"key"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Stats summarises the current run's results.
type Stats struct {
	Harvested     int                     `json:"harvested"`
	Checked       int                     `json:"checked"`
	Active        int                     `json:"active"`
	Filtered      int                     `json:"filtered"`
	SuccessRate   float64                 `json:"success_rate"`
	Categories    map[proxy.Category]int  `json:"categories"`
	Anonymity     map[proxy.Anonymity]int `json:"anonymity"`
	Countries     []Share                 `json:"countries"`
	PersistErrors int                     `json:"persist_errors"`
}

func computeStats(state proxy.RunState, results []proxy.Record, filtered int) Stats {
	st := Stats{
		Harvested:     state.CandidatesFound,
		Checked:       state.CheckedCount,
		Active:        len(results),
		Filtered:      filtered,
		PersistErrors: state.PersistErrors,
		Categories: map[proxy.Category]int{
			proxy.CategoryFast:   0,
			proxy.CategoryMedium: 0,
			proxy.CategorySlow:   0,
		},
		Anonymity: map[proxy.Anonymity]int{},
	}
	if st.Checked > 0 {
		st.SuccessRate = float64(st.Active) / float64(st.Checked) * 100
	}
	countries := map[string]int{}
	for _, r := range results {
		st.Categories[r.Category]++
		st.Anonymity[r.Anonymity]++
		countries[r.Country]++
	}
	st.Countries = distribution(countries, len(results))
	return st
}

// distribution sorts buckets by count descending, then key.
func distribution(counts map[string]int, total int) []Share {
	out := make([]Share, 0, len(counts))
	for k, n := range counts {
		out = append(out, Share{Key: k, Count: n, Percent: float64(n) / float64(total) * 100})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
