package ldbstore

import (
	"bytes"
	"io/ioutil"
	"os"
	"sync"
	"testing"

	selfplay "github.com/rlworks/go-selfplay"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	tmpDir, err := ioutil.TempDir("", "pool-test-")
	if err != nil {
		t.Fatal(err)
	}

	store, err := New(tmpDir, nil)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatal(err)
	}

	return store, func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestLatestRoundTrip(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	if _, err := store.ReadLatest(); err != selfplay.ErrNoLatest {
		t.Fatalf("expected ErrNoLatest, got %v", err)
	}

	if err := store.PublishLatest([]byte("params-v3"), 3); err != nil {
		t.Fatal(err)
	}

	snap, err := store.ReadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 3 || !bytes.Equal(snap.Params, []byte("params-v3")) {
		t.Errorf("got %v v%d", snap.Params, snap.Version)
	}
}

func TestPromoteInitialQuality(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	index, err := store.PromoteSnapshot([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if index != 0 {
		t.Errorf("first promote index = %d", index)
	}

	store.PromoteSnapshot([]byte("b"))
	qualities, err := store.ReadQualities()
	if err != nil {
		t.Fatal(err)
	}
	if len(qualities) != 2 || qualities[0] != 0 || qualities[1] != 0 {
		t.Errorf("qualities = %v, want [0 0]", qualities)
	}

	if err := store.ApplyQualityDelta(0, 1.75); err != nil {
		t.Fatal(err)
	}
	store.PromoteSnapshot([]byte("c"))
	qualities, _ = store.ReadQualities()
	if qualities[2] != 1.75 {
		t.Errorf("new snapshot initial quality = %v, want 1.75", qualities[2])
	}

	snap, err := store.ReadSnapshot(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(snap.Params, []byte("c")) {
		t.Errorf("snapshot 2 params = %q", snap.Params)
	}
}

func TestPromoteInitialQualityNegativePool(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	store.PromoteSnapshot([]byte("a"))
	store.PromoteSnapshot([]byte("b"))

	// All-negative pool: a new snapshot still seeds from the maximum,
	// not from 0.
	if err := store.ApplyQualityDelta(0, -3.0); err != nil {
		t.Fatal(err)
	}
	if err := store.ApplyQualityDelta(1, -1.5); err != nil {
		t.Fatal(err)
	}
	store.PromoteSnapshot([]byte("c"))
	qualities, err := store.ReadQualities()
	if err != nil {
		t.Fatal(err)
	}
	if qualities[2] != -1.5 {
		t.Errorf("initial quality = %v, want max(existing) = -1.5", qualities[2])
	}
}

func TestApplyQualityDeltaOutOfRange(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	store.PromoteSnapshot([]byte("a"))
	if err := store.ApplyQualityDelta(1, 1.0); err != selfplay.ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestConcurrentQualityDeltasNoLostUpdates(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	store.PromoteSnapshot([]byte("a"))

	const workers = 10
	const updates = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < updates; j++ {
				if err := store.ApplyQualityDelta(0, 1.0); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	qualities, err := store.ReadQualities()
	if err != nil {
		t.Fatal(err)
	}
	if want := float64(workers * updates); qualities[0] != want {
		t.Errorf("final quality = %v, want %v (lost updates)", qualities[0], want)
	}
}

func TestRolloutQueueFIFO(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	store.PushRollouts([][]byte{[]byte("r1"), []byte("r2"), []byte("r3")})

	popped, err := store.PopRollouts(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(popped) != 2 || string(popped[0]) != "r1" || string(popped[1]) != "r2" {
		t.Errorf("popped %q, want [r1 r2]", popped)
	}

	popped, _ = store.PopRollouts(10)
	if len(popped) != 1 || string(popped[0]) != "r3" {
		t.Errorf("popped %q, want [r3]", popped)
	}
}

func TestReopenPersists(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "pool-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := New(tmpDir, nil)
	if err != nil {
		t.Fatal(err)
	}

	store.PublishLatest([]byte("v7"), 7)
	store.PromoteSnapshot([]byte("a"))
	store.ApplyQualityDelta(0, 0.5)
	store.PushRollouts([][]byte{[]byte("r1")})
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = New(tmpDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	snap, err := store.ReadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 7 {
		t.Errorf("latest version after reopen = %d, want 7", snap.Version)
	}

	qualities, _ := store.ReadQualities()
	if len(qualities) != 1 || qualities[0] != 0.5 {
		t.Errorf("qualities after reopen = %v, want [0.5]", qualities)
	}

	popped, _ := store.PopRollouts(5)
	if len(popped) != 1 || string(popped[0]) != "r1" {
		t.Errorf("queue after reopen = %q, want [r1]", popped)
	}
}
