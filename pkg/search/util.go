package search

import (
	"sort"
	"strings"
)

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func stableSortByScoreDesc(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
}
