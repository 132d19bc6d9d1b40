package retrieval

import "sort"

// RepeatBoost is the per-extra-appearance multiplier applied by Combine.
const RepeatBoost = 0.3

// Combine merges results gathered by several sub-queries. Results are
// grouped by ID (results without one are dropped) and scored as
// mean_similarity * (1 + RepeatBoost*(appearances-1)). The best result of
// each of the first minBooks distinct sources is admitted before the rest
// fill up to maxResults. The output is ordered by combined score; ties keep
// first-seen order.
func Combine(results []Result, maxResults, minBooks int) []Result {
	if len(results) == 0 || maxResults <= 0 {
		return []Result{}
	}

	type group struct {
		first Result
		sum   float64
		count int
	}
	groups := make(map[string]*group)
	order := make([]string, 0, len(results))
	for _, r := range results {
		if r.ID == "" {
			continue
		}
		g, ok := groups[r.ID]
		if !ok {
			g = &group{first: r}
			groups[r.ID] = g
			order = append(order, r.ID)
		}
		g.sum += r.Similarity
		g.count++
	}

	scored := make([]Result, 0, len(order))
	for _, id := range order {
		g := groups[id]
		r := g.first
		mean := g.sum / float64(g.count)
		r.CombinedScore = float64Ptr(mean * (1 + RepeatBoost*float64(g.count-1)))
		r.Appearances = g.count
		scored = append(scored, r)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].CombinedScore > *scored[j].CombinedScore
	})

	admitted := make([]bool, len(scored))
	taken := 0
	sources := make(map[string]bool)
	for i, r := range scored {
		if len(sources) >= minBooks || taken >= maxResults {
			break
		}
		src := r.source()
		if sources[src] {
			continue
		}
		sources[src] = true
		admitted[i] = true
		taken++
	}
	for i := range scored {
		if taken >= maxResults {
			break
		}
		if !admitted[i] {
			admitted[i] = true
			taken++
		}
	}

	out := make([]Result, 0, taken)
	for i, r := range scored {
		if admitted[i] {
			out = append(out, r)
		}
	}
	return out
}
