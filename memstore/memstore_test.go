package memstore

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"

	selfplay "github.com/rlworks/go-selfplay"
)

func TestLatestRoundTrip(t *testing.T) {
	s := New()

	if _, err := s.ReadLatest(); err != selfplay.ErrNoLatest {
		t.Fatalf("expected ErrNoLatest, got %v", err)
	}

	if err := s.PublishLatest([]byte("params-v1"), 1); err != nil {
		t.Fatal(err)
	}

	snap, err := s.ReadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 1 || !bytes.Equal(snap.Params, []byte("params-v1")) {
		t.Errorf("got %v v%d", snap.Params, snap.Version)
	}

	// Publishing replaces the pair wholesale.
	if err := s.PublishLatest([]byte("params-v2"), 2); err != nil {
		t.Fatal(err)
	}
	snap, err = s.ReadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 2 || !bytes.Equal(snap.Params, []byte("params-v2")) {
		t.Errorf("got %v v%d after republish", snap.Params, snap.Version)
	}
}

func TestPromoteInitialQuality(t *testing.T) {
	s := New()

	// Empty pool: baseline quality 0.
	if index, _ := s.PromoteSnapshot([]byte("a")); index != 0 {
		t.Errorf("first promote index = %d", index)
	}
	qualities, _ := s.ReadQualities()
	if len(qualities) != 1 || qualities[0] != 0.0 {
		t.Errorf("qualities after first promote = %v, want [0]", qualities)
	}

	// Max of [0] is still 0.
	s.PromoteSnapshot([]byte("b"))
	qualities, _ = s.ReadQualities()
	if len(qualities) != 2 || qualities[0] != 0.0 || qualities[1] != 0.0 {
		t.Errorf("qualities after second promote = %v, want [0 0]", qualities)
	}

	// A promoted snapshot starts at the current maximum.
	s.ApplyQualityDelta(1, 2.5)
	s.PromoteSnapshot([]byte("c"))
	qualities, _ = s.ReadQualities()
	if qualities[2] != 2.5 {
		t.Errorf("third snapshot initial quality = %v, want 2.5", qualities[2])
	}
}

func TestPromoteInitialQualityNegativePool(t *testing.T) {
	s := New()
	s.PromoteSnapshot([]byte("a"))
	s.PromoteSnapshot([]byte("b"))

	// When every score is negative, the maximum is still the seed.
	// Starting a new snapshot at 0 would rank it above the whole pool.
	s.ApplyQualityDelta(0, -3.0)
	s.ApplyQualityDelta(1, -1.5)
	s.PromoteSnapshot([]byte("c"))
	qualities, _ := s.ReadQualities()
	if qualities[2] != -1.5 {
		t.Errorf("initial quality = %v, want max(existing) = -1.5", qualities[2])
	}
}

func TestReadSnapshot(t *testing.T) {
	s := New()
	s.PromoteSnapshot([]byte("a"))
	s.PromoteSnapshot([]byte("b"))

	snap, err := s.ReadSnapshot(1)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 1 || !bytes.Equal(snap.Params, []byte("b")) {
		t.Errorf("snapshot 1 = %v v%d", snap.Params, snap.Version)
	}

	if _, err := s.ReadSnapshot(2); err != selfplay.ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestApplyQualityDeltaOutOfRange(t *testing.T) {
	s := New()
	s.PromoteSnapshot([]byte("a"))

	if err := s.ApplyQualityDelta(1, 1.0); err != selfplay.ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := s.ApplyQualityDelta(-1, 1.0); err != selfplay.ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange for negative index, got %v", err)
	}

	qualities, _ := s.ReadQualities()
	if qualities[0] != 0 {
		t.Errorf("in-range quality modified: %v", qualities)
	}
}

func TestConcurrentQualityDeltasNoLostUpdates(t *testing.T) {
	s := New()
	s.PromoteSnapshot([]byte("a"))

	const workers = 50
	const updates = 100

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < updates; j++ {
				if err := s.ApplyQualityDelta(0, 1.0); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	qualities, _ := s.ReadQualities()
	if want := float64(workers * updates); qualities[0] != want {
		t.Errorf("final quality = %v, want %v (lost updates)", qualities[0], want)
	}
}

func TestPromoteInterleavedWithDeltas(t *testing.T) {
	s := New()
	s.PromoteSnapshot([]byte("seed"))

	const promotes = 100

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < promotes; i++ {
			if _, err := s.PromoteSnapshot([]byte("snap")); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	for g := 0; g < 2; g++ {
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				n, err := s.NumOpponents()
				if err != nil {
					t.Error(err)
					return
				}
				// A stale count may race a promote; out-of-range must
				// be the only acceptable failure.
				err = s.ApplyQualityDelta(rng.Intn(n+1), 0.1)
				if err != nil && err != selfplay.ErrIndexOutOfRange {
					t.Error(err)
					return
				}
			}
		}(int64(g))
	}
	wg.Wait()

	n, _ := s.NumOpponents()
	qualities, _ := s.ReadQualities()
	if n != promotes+1 || len(qualities) != n {
		t.Errorf("pool size %d, quality list %d, want both %d", n, len(qualities), promotes+1)
	}
}

func TestRolloutQueueFIFO(t *testing.T) {
	s := New()
	s.PushRollouts([][]byte{[]byte("r1"), []byte("r2")})
	s.PushRollouts([][]byte{[]byte("r3")})

	popped, err := s.PopRollouts(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(popped) != 2 || string(popped[0]) != "r1" || string(popped[1]) != "r2" {
		t.Errorf("popped %q, want [r1 r2]", popped)
	}

	popped, _ = s.PopRollouts(10)
	if len(popped) != 1 || string(popped[0]) != "r3" {
		t.Errorf("popped %q, want [r3]", popped)
	}

	if popped, _ := s.PopRollouts(1); popped != nil {
		t.Errorf("popped %q from empty queue", popped)
	}
}
