package selfplay

import (
	"fmt"
	"math"
	"math/rand"
)

const tol = 1e-3

// SelectionDistribution computes softmax selection probabilities over
// the given quality scores. The maximum is subtracted before
// exponentiating, so the result is stable for large scores and
// invariant under adding a constant to every element. Every snapshot
// receives a strictly positive probability for finite input.
//
// Returns ErrEmptyPool for an empty quality list.
func SelectionDistribution(qualities []float64) ([]float64, error) {
	if len(qualities) == 0 {
		return nil, ErrEmptyPool
	}

	dist := make([]float64, len(qualities))
	softmaxInto(dist, qualities)
	return dist, nil
}

func softmaxInto(dst, qualities []float64) {
	max := qualities[0]
	for _, q := range qualities[1:] {
		if q > max {
			max = q
		}
	}

	var sum float64
	for i, q := range qualities {
		dst[i] = math.Exp(q - max)
		sum += dst[i]
	}

	for i := range dst {
		dst[i] /= sum
	}
}

// SampleIndex draws one index according to the given categorical
// distribution. It returns both the chosen index and its probability
// mass, since the probability is needed downstream for the
// inverse-propensity correction.
func SampleIndex(pv []float64, rng *rand.Rand) (int, float64) {
	x := rng.Float64()
	var cumProb float64
	for i, p := range pv {
		cumProb += p
		if cumProb > x {
			return i, p
		}
	}

	if cumProb < 1.0-tol { // Leave room for floating point error.
		panic(fmt.Errorf("probability distribution sums to %v != 1! pv: %v", cumProb, pv))
	}

	return len(pv) - 1, pv[len(pv)-1]
}

// InitialQuality returns the score a newly promoted snapshot starts
// with: the maximum of the existing qualities, or 0 if the pool is
// empty. Seeding from the existing maximum (even when all scores are
// negative) means a fresh snapshot is never ranked above opponents
// that have already proven stronger.
func InitialQuality(qualities []float64) float64 {
	if len(qualities) == 0 {
		return 0
	}

	max := qualities[0]
	for _, q := range qualities[1:] {
		if q > max {
			max = q
		}
	}
	return max
}

// QualityDelta computes the quality adjustment for a sampled opponent:
// outcomeRate / (poolSize * chosenProb). Scaling by the inverse of the
// selection probability keeps the expected update per round independent
// of how often the opponent is chosen, so rarely-selected opponents
// receive proportionally larger adjustments per selection.
//
// outcomeRate is a signed win/loss/draw signal supplied by the caller;
// poolSize must be > 0 and chosenProb must be > 0, both guaranteed by
// the Sampler for any recorded SelectionEvent.
func QualityDelta(poolSize int, chosenProb, outcomeRate float64) float64 {
	return outcomeRate / (float64(poolSize) * chosenProb)
}
