package selfplay

import (
	"sync"

	"github.com/pkg/errors"
)

var errTestUnreachable = errors.New("store unreachable")

// fakeStore is a minimal in-process PoolStore with injectable failures
// for worker and sampler tests.
type fakeStore struct {
	mx sync.Mutex

	latest    Snapshot
	hasLatest bool
	opponents [][]byte
	qualities []float64
	rollouts  [][]byte

	// latestFailures transient-fails that many ReadLatest calls.
	latestFailures int
	// applyErr, when set, is returned by every ApplyQualityDelta.
	applyErr error
	// pushFailures transient-fails that many PushRollouts calls.
	pushFailures int
}

func (s *fakeStore) PublishLatest(params []byte, version int) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.latest = Snapshot{Params: params, Version: version}
	s.hasLatest = true
	return nil
}

func (s *fakeStore) ReadLatest() (Snapshot, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.latestFailures > 0 {
		s.latestFailures--
		return Snapshot{}, &TransientError{Err: errTestUnreachable}
	}
	if !s.hasLatest {
		return Snapshot{}, ErrNoLatest
	}
	return s.latest, nil
}

func (s *fakeStore) PromoteSnapshot(params []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	quality := InitialQuality(s.qualities)
	s.opponents = append(s.opponents, params)
	s.qualities = append(s.qualities, quality)
	return len(s.opponents) - 1, nil
}

func (s *fakeStore) ReadSnapshot(index int) (Snapshot, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if index < 0 || index >= len(s.opponents) {
		return Snapshot{}, ErrIndexOutOfRange
	}
	return Snapshot{Params: s.opponents[index], Version: index}, nil
}

func (s *fakeStore) ReadQualities() ([]float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	out := make([]float64, len(s.qualities))
	copy(out, s.qualities)
	return out, nil
}

func (s *fakeStore) NumOpponents() (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.opponents), nil
}

func (s *fakeStore) ApplyQualityDelta(index int, delta float64) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	if index < 0 || index >= len(s.qualities) {
		return ErrIndexOutOfRange
	}
	s.qualities[index] += delta
	return nil
}

func (s *fakeStore) PushRollouts(payloads [][]byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.pushFailures > 0 {
		s.pushFailures--
		return &TransientError{Err: errTestUnreachable}
	}
	s.rollouts = append(s.rollouts, payloads...)
	return nil
}

func (s *fakeStore) PopRollouts(max int) ([][]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if max > len(s.rollouts) {
		max = len(s.rollouts)
	}
	popped := s.rollouts[:max]
	s.rollouts = s.rollouts[max:]
	return popped, nil
}
