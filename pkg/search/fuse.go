package search

import (
	"math"
	"sort"
	"time"
)

// rrfK is Reciprocal Rank Fusion's rank-smoothing constant.
const rrfK = 60.0

// RRFScore is one list's Reciprocal Rank Fusion contribution for a
// zero-based rank: 1/(k+rank+1). Exported so unified ask fuses its
// per-type candidate lists with the identical constant.
func RRFScore(rank int) float64 {
	return 1.0 / (rrfK + float64(rank+1))
}

// RecencyAccessBoost scales score by (1 + log1p(access_count)) ·
// exp(-Δ/τ), Δ being the age in days since lastAccessedAt and τ the
// halfLife in days. A zero lastAccessedAt skips the recency factor. The
// boost is monotonic in access count and in recency; Unified Ask applies
// it uniformly across result types to avoid type bias.
func RecencyAccessBoost(score float64, accessCount int, lastAccessedAt time.Time, halfLife time.Duration, now time.Time) float64 {
	factor := 1 + math.Log1p(float64(accessCount))

	tauDays := halfLife.Hours() / 24
	if !lastAccessedAt.IsZero() && tauDays > 0 {
		deltaDays := now.Sub(lastAccessedAt).Hours() / 24
		if deltaDays < 0 {
			deltaDays = 0
		}

		factor *= math.Exp(-deltaDays / tauDays)
	}

	return score * factor
}

// rrfFuse merges ranked lists sharing a SymbolID key space, per
// score(item) = Σ 1/(k+rank_i). Items appearing in only one list are
// scored from that list's rank alone. The fused list is sorted by score
// descending, symbol_id ascending as a deterministic tiebreak.
func rrfFuse(lists ...[]Match) []Match {
	scores := make(map[string]float64)
	byID := make(map[string]Match)

	for _, list := range lists {
		for rank, m := range list {
			scores[m.SymbolID] += RRFScore(rank)

			if existing, ok := byID[m.SymbolID]; !ok || existing.SemanticScore == 0 {
				byID[m.SymbolID] = m
			}
		}
	}

	out := make([]Match, 0, len(scores))

	for id, score := range scores {
		m := byID[id]
		m.Score = score
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}

		return out[i].SymbolID < out[j].SymbolID
	})

	return out
}

// applyBoost scales each match's score by the recency/access boost:
// boost = score · (1 + log1p(access_count)) · exp(-Δ/τ), where Δ is the
// age in days since last_accessed_at and τ is halfLife expressed in days.
// A zero last_accessed_at (never accessed) skips the recency factor
// entirely
func applyBoost(matches []Match, halfLife time.Duration, now time.Time) []Match {
	out := make([]Match, len(matches))

	for i, m := range matches {
		m.Score = RecencyAccessBoost(m.Score, m.AccessCount, m.LastAccessedAt, halfLife, now)
		out[i] = m
	}

	return out
}
