package markov

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"
)

// Variance is the exponent applied to a context length to get its back-off weight.
const Variance = 2

// Sampler draws weighted random choices. It is used both to pick a continuation
// token and to pick the context length of the next walk step.
// A Sampler is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a Sampler drawing from rng. A nil rng uses the global
// math/rand/v2 source.
func NewSampler(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

func (s *Sampler) float64() float64 {
	if s.rng == nil {
		return rand.Float64()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// IntN returns a uniform int in [0, n). n must be positive.
func (s *Sampler) IntN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Choose draws an index with probability proportional to its weight, using a
// cumulative sum and one uniform draw. Negative and NaN weights count as zero.
// It returns -1 if no weight is positive.
func (s *Sampler) Choose(weights []float64) int {
	cumulative := make([]float64, len(weights))
	var total float64
	last := -1
	for i, w := range weights {
		if w > 0 && !math.IsInf(w, 0) {
			total += w
			last = i
		}
		cumulative[i] = total
	}
	if last < 0 {
		return -1
	}

	x := s.float64() * total
	i := sort.Search(len(cumulative), func(i int) bool { return cumulative[i] > x })
	if i > last {
		// x rounded up to total.
		i = last
	}
	return i
}

// Continuation draws one token from d proportionally to its probability.
// It returns false for an empty distribution.
func (s *Sampler) Continuation(d Distribution) (string, bool) {
	c := newChoices(d)
	return s.draw(&c)
}

// draw picks one token from a precomputed sampling table with a single uniform
// draw and a binary search.
func (s *Sampler) draw(c *choices) (string, bool) {
	if c == nil || len(c.tokens) == 0 {
		return "", false
	}
	return c.at(s.float64() * c.total()), true
}

// ContextLength draws the context length of the next walk step from [kMin, kMax],
// or from [kMin, kMax-1] once the walk has used a context of the maximum order.
// Each length L is weighted L^Variance, so the longest length is the most likely.
func (s *Sampler) ContextLength(kMin, kMax int, usedMax bool) int {
	lengths, weights := lengthWeights(kMin, kMax, usedMax)
	i := s.Choose(weights)
	if i < 0 {
		return kMin
	}
	return lengths[i]
}

// lengthWeights returns the candidate lengths and their normalized weights.
func lengthWeights(kMin, kMax int, usedMax bool) ([]int, []float64) {
	upper := kMax
	if usedMax {
		upper = kMax - 1
	}
	if upper < kMin {
		upper = kMin
	}

	lengths := make([]int, 0, upper-kMin+1)
	weights := make([]float64, 0, upper-kMin+1)
	var total float64
	for l := kMin; l <= upper; l++ {
		w := math.Pow(float64(l), Variance)
		lengths = append(lengths, l)
		weights = append(weights, w)
		total += w
	}
	for i := range weights {
		weights[i] /= total
	}
	return lengths, weights
}
