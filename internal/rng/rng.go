// Package rng provides the engine's deterministic sampling helpers:
// weighted selection by prefix-sum + binary search, and per-entity
// seeded sub-streams for audience sampling. Centralizing this keeps
// determinism (spec P9) to one seeded *rand.Rand per simulation,
// generalizing the teacher's table-driven draws in
// internal/agents/archetype.go into a reusable routine (Design Notes §9).
package rng

import (
	"hash/fnv"
	"math/rand"
	"sort"
)

// Candidate is a named, scored option for weighted selection.
type Candidate struct {
	Name  string
	Score float64
}

// WeightedPick selects one candidate with probability proportional to
// its score, using a single uniform draw from src. Candidates are
// sorted by name first so that equal scores — and the draw landing
// exactly on a boundary — resolve deterministically regardless of
// slice order. Returns (-1, false) if candidates is empty or every
// score is <= 0.
func WeightedPick(src *rand.Rand, candidates []Candidate) (int, bool) {
	if len(candidates) == 0 {
		return -1, false
	}

	ordered := make([]int, len(candidates))
	for i := range ordered {
		ordered[i] = i
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return candidates[ordered[i]].Name < candidates[ordered[j]].Name
	})

	prefix := make([]float64, len(ordered))
	total := 0.0
	for i, idx := range ordered {
		if candidates[idx].Score > 0 {
			total += candidates[idx].Score
		}
		prefix[i] = total
	}
	if total <= 0 {
		return -1, false
	}

	draw := src.Float64() * total
	pos := sort.Search(len(prefix), func(i int) bool { return prefix[i] > draw })
	if pos >= len(ordered) {
		pos = len(ordered) - 1
	}
	return ordered[pos], true
}

// SeededStream returns a *rand.Rand deterministically derived from a
// base seed and an arbitrary set of key parts (e.g. trend id, day
// index), so that audience sampling (spec §4.7) is reproducible given
// equal seed and equal configuration without requiring a separate
// stored seed per trend.
func SeededStream(baseSeed int64, parts ...uint64) *rand.Rand {
	h := fnv.New64a()
	var buf [8]byte
	writeUint64 := func(v uint64) {
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf[:])
	}
	writeUint64(uint64(baseSeed))
	for _, p := range parts {
		writeUint64(p)
	}
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// ExpClamped draws from an exponential distribution with rate lambda
// and clamps the result to [lo, hi] (spec §4.7's follow-up-post delay).
func ExpClamped(src *rand.Rand, lambda, lo, hi float64) float64 {
	v := src.ExpFloat64() / lambda
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Uniform draws a float64 uniformly from [lo, hi).
func Uniform(src *rand.Rand, lo, hi float64) float64 {
	return lo + src.Float64()*(hi-lo)
}
