package search

import "sort"

// SortResults sorts results by score (descending), then by path (ascending).
func SortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Path < results[j].Path
		}
		return results[i].Score > results[j].Score
	})
}

// Dedup keeps the first result of each duplicate group, in order, until k
// results are collected. Results without a group are always kept.
func Dedup(results []Result, k int) []Result {
	seen := make(map[string]bool)
	out := make([]Result, 0, k)
	for _, r := range results {
		if len(out) == k {
			break
		}
		if r.DuplicateGroup != "" {
			if seen[r.DuplicateGroup] {
				continue
			}
			seen[r.DuplicateGroup] = true
		}
		out = append(out, r)
	}
	return out
}
