// Package memstore implements the selfplay pool store with in-memory
// datastructures guarded by a single mutex.
//
// It is the reference implementation of the store's atomicity contract
// and is suitable for tests and single-process runs; cross-process
// deployments should put it (or a disk-backed store) behind poolhttp.
package memstore

import (
	"sync"

	selfplay "github.com/rlworks/go-selfplay"
)

// Store is an in-memory selfplay.PoolStore. All operations are safe to
// call concurrently from any number of goroutines.
type Store struct {
	mx sync.Mutex

	latest    selfplay.Snapshot
	hasLatest bool

	opponents [][]byte
	qualities []float64

	rollouts [][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// PublishLatest implements selfplay.PoolStore.
func (s *Store) PublishLatest(params []byte, version int) error {
	blob := append([]byte(nil), params...)

	s.mx.Lock()
	s.latest = selfplay.Snapshot{Params: blob, Version: version}
	s.hasLatest = true
	s.mx.Unlock()
	return nil
}

// ReadLatest implements selfplay.PoolStore.
func (s *Store) ReadLatest() (selfplay.Snapshot, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if !s.hasLatest {
		return selfplay.Snapshot{}, selfplay.ErrNoLatest
	}

	snap := s.latest
	snap.Params = append([]byte(nil), snap.Params...)
	return snap, nil
}

// PromoteSnapshot implements selfplay.PoolStore. The blob append and
// the initial-quality append happen under one critical section, so
// the two lists can never disagree in length.
func (s *Store) PromoteSnapshot(params []byte) (int, error) {
	blob := append([]byte(nil), params...)

	s.mx.Lock()
	defer s.mx.Unlock()

	quality := selfplay.InitialQuality(s.qualities)

	s.opponents = append(s.opponents, blob)
	s.qualities = append(s.qualities, quality)
	return len(s.opponents) - 1, nil
}

// ReadSnapshot implements selfplay.PoolStore.
func (s *Store) ReadSnapshot(index int) (selfplay.Snapshot, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if index < 0 || index >= len(s.opponents) {
		return selfplay.Snapshot{}, selfplay.ErrIndexOutOfRange
	}

	return selfplay.Snapshot{
		Params:  append([]byte(nil), s.opponents[index]...),
		Version: index,
	}, nil
}

// ReadQualities implements selfplay.PoolStore.
func (s *Store) ReadQualities() ([]float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	qualities := make([]float64, len(s.qualities))
	copy(qualities, s.qualities)
	return qualities, nil
}

// NumOpponents implements selfplay.PoolStore.
func (s *Store) NumOpponents() (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.opponents), nil
}

// ApplyQualityDelta implements selfplay.PoolStore. The read and write
// of the score happen under one critical section; concurrent deltas
// against the same index are never lost.
func (s *Store) ApplyQualityDelta(index int, delta float64) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if index < 0 || index >= len(s.qualities) {
		return selfplay.ErrIndexOutOfRange
	}

	s.qualities[index] += delta
	return nil
}

// PushRollouts implements selfplay.PoolStore.
func (s *Store) PushRollouts(payloads [][]byte) error {
	copied := make([][]byte, len(payloads))
	for i, p := range payloads {
		copied[i] = append([]byte(nil), p...)
	}

	s.mx.Lock()
	s.rollouts = append(s.rollouts, copied...)
	s.mx.Unlock()
	return nil
}

// PopRollouts implements selfplay.PoolStore.
func (s *Store) PopRollouts(max int) ([][]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if max <= 0 || len(s.rollouts) == 0 {
		return nil, nil
	}

	n := max
	if n > len(s.rollouts) {
		n = len(s.rollouts)
	}

	popped := s.rollouts[:n]
	s.rollouts = append([][]byte(nil), s.rollouts[n:]...)
	return popped, nil
}
