package selfplay

import (
	"math/rand"

	"github.com/pkg/errors"
)

// SelectionEvent records one historical opponent pick: which index was
// chosen and its selection probability at the time of the draw. The
// probability is needed to importance-weight the quality update after
// the episode. SelectionEvents are never persisted.
type SelectionEvent struct {
	Index int
	Prob  float64
}

// Assignment is the outcome of sampling policies for one matchup:
// one policy identifier per seat (in final, shuffled seat order) and
// the SelectionEvent for every historical pick.
type Assignment struct {
	Policies   []string
	Selections []SelectionEvent
}

// Sampler chooses which policy occupies each seat of a match.
//
// Exactly one seat always uses the latest policy, so every episode
// carries training signal for the current parameters. The remaining
// seats independently use the latest policy with an adjusted
// probability p' = (p*n - 1) / (n - 1), which makes the overall
// expected fraction of latest-policy seats equal LatestFraction
// after accounting for the reserved seat.
type Sampler struct {
	// Store provides the quality scores. Reads may be slightly stale
	// relative to concurrent promotes; selection probabilities are
	// approximate by design.
	Store PoolStore

	// LatestFraction is the target fraction of seats running the
	// latest policy, in (0, 1].
	LatestFraction float64

	Rng *rand.Rand

	distPool floatSlicePool
}

// adjustedProb corrects the per-seat latest probability for the one
// reserved latest seat. Only defined for n >= 2.
func adjustedProb(p float64, n int) float64 {
	return (p*float64(n) - 1) / float64(n-1)
}

// Sample assigns a policy to each of numSeats seats.
//
// An empty opponent pool short-circuits every seat to the latest
// policy. Seat order is shuffled so that which physical seat receives
// which policy is uncorrelated with sampling order.
func (s *Sampler) Sample(numSeats int) (*Assignment, error) {
	if numSeats < 1 {
		return nil, errors.Errorf("invalid seat count %d", numSeats)
	}

	policies := make([]string, 0, numSeats)
	policies = append(policies, LatestID) // Reserved seat.

	var selections []SelectionEvent
	if numSeats > 1 {
		pPrime := adjustedProb(s.LatestFraction, numSeats)
		for i := 0; i < numSeats-1; i++ {
			if s.Rng.Float64() < pPrime {
				policies = append(policies, LatestID)
				continue
			}

			index, prob, err := s.sampleOpponent()
			if err == ErrEmptyPool {
				policies = append(policies, LatestID)
				continue
			} else if err != nil {
				return nil, err
			}

			policies = append(policies, HistoricalID(index))
			selections = append(selections, SelectionEvent{Index: index, Prob: prob})
		}
	}

	s.Rng.Shuffle(len(policies), func(i, j int) {
		policies[i], policies[j] = policies[j], policies[i]
	})

	return &Assignment{Policies: policies, Selections: selections}, nil
}

// sampleOpponent draws one historical index weighted by the current
// quality scores. Qualities are re-read from the store on every draw
// so concurrent quality updates are reflected as soon as possible.
func (s *Sampler) sampleOpponent() (int, float64, error) {
	qualities, err := s.Store.ReadQualities()
	if err != nil {
		return 0, 0, errors.Wrap(err, "reading qualities")
	}

	if len(qualities) == 0 {
		return 0, 0, ErrEmptyPool
	}

	dist := s.distPool.alloc(len(qualities))
	defer s.distPool.free(dist)

	softmaxInto(dist, qualities)
	index, prob := SampleIndex(dist, s.Rng)
	return index, prob, nil
}
