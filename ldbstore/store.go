package ldbstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	selfplay "github.com/rlworks/go-selfplay"
)

var (
	keyLatest        = []byte("latest")
	keyOpponentCount = []byte("opponent-count")
	keyRolloutHead   = []byte("rollout-head")
	keyRolloutTail   = []byte("rollout-tail")
)

// Store is a selfplay.PoolStore backed by a LevelDB database on disk.
type Store struct {
	path  string
	db    *leveldb.DB
	rOpts *opt.ReadOptions
	wOpts *opt.WriteOptions

	mx sync.Mutex
}

// New opens (or creates) a pool store at the given directory path.
func New(path string, opts *opt.Options) (*Store, error) {
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %s", path)
	}

	return &Store{path: path, db: db}, nil
}

// Close implements io.Closer.
func (s *Store) Close() error {
	return s.db.Close()
}

// PublishLatest implements selfplay.PoolStore. The blob and version
// are stored as one record, so the swap is a single atomic Put and
// readers can never observe a mismatched pair.
func (s *Store) PublishLatest(params []byte, version int) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(selfplay.Snapshot{Params: params, Version: version}); err != nil {
		return err
	}

	return s.db.Put(keyLatest, buf.Bytes(), s.wOpts)
}

// ReadLatest implements selfplay.PoolStore.
func (s *Store) ReadLatest() (selfplay.Snapshot, error) {
	buf, err := s.db.Get(keyLatest, s.rOpts)
	if err == leveldb.ErrNotFound {
		return selfplay.Snapshot{}, selfplay.ErrNoLatest
	} else if err != nil {
		return selfplay.Snapshot{}, errors.Wrap(err, "reading latest")
	}

	var snap selfplay.Snapshot
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&snap); err != nil {
		return selfplay.Snapshot{}, err
	}

	return snap, nil
}

// PromoteSnapshot implements selfplay.PoolStore. The blob, its initial
// quality and the new pool size are written in one leveldb.Batch.
func (s *Store) PromoteSnapshot(params []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	n, err := s.count(keyOpponentCount)
	if err != nil {
		return 0, err
	}

	existing := make([]float64, n)
	for i := range existing {
		if existing[i], err = s.quality(i); err != nil {
			return 0, err
		}
	}
	quality := selfplay.InitialQuality(existing)

	batch := new(leveldb.Batch)
	batch.Put(opponentKey(n), params)
	batch.Put(qualityKey(n), encodeFloat(quality))
	batch.Put(keyOpponentCount, encodeCount(n+1))
	if err := s.db.Write(batch, s.wOpts); err != nil {
		return 0, errors.Wrap(err, "promoting snapshot")
	}

	return n, nil
}

// ReadSnapshot implements selfplay.PoolStore.
func (s *Store) ReadSnapshot(index int) (selfplay.Snapshot, error) {
	buf, err := s.db.Get(opponentKey(index), s.rOpts)
	if err == leveldb.ErrNotFound {
		return selfplay.Snapshot{}, selfplay.ErrIndexOutOfRange
	} else if err != nil {
		return selfplay.Snapshot{}, errors.Wrapf(err, "reading snapshot %d", index)
	}

	return selfplay.Snapshot{Params: buf, Version: index}, nil
}

// ReadQualities implements selfplay.PoolStore.
func (s *Store) ReadQualities() ([]float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	n, err := s.count(keyOpponentCount)
	if err != nil {
		return nil, err
	}

	qualities := make([]float64, n)
	for i := range qualities {
		if qualities[i], err = s.quality(i); err != nil {
			return nil, err
		}
	}

	return qualities, nil
}

// NumOpponents implements selfplay.PoolStore.
func (s *Store) NumOpponents() (int, error) {
	return s.count(keyOpponentCount)
}

// ApplyQualityDelta implements selfplay.PoolStore. The read and write
// of the score happen under the store mutex, making the update a
// single read-modify-write unit.
func (s *Store) ApplyQualityDelta(index int, delta float64) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	n, err := s.count(keyOpponentCount)
	if err != nil {
		return err
	}
	if index < 0 || index >= n {
		return selfplay.ErrIndexOutOfRange
	}

	q, err := s.quality(index)
	if err != nil {
		return err
	}

	return s.db.Put(qualityKey(index), encodeFloat(q+delta), s.wOpts)
}

// PushRollouts implements selfplay.PoolStore.
func (s *Store) PushRollouts(payloads [][]byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	tail, err := s.count(keyRolloutTail)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for i, p := range payloads {
		batch.Put(rolloutKey(tail+i), p)
	}
	batch.Put(keyRolloutTail, encodeCount(tail+len(payloads)))
	return errors.Wrap(s.db.Write(batch, s.wOpts), "pushing rollouts")
}

// PopRollouts implements selfplay.PoolStore.
func (s *Store) PopRollouts(max int) ([][]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	head, err := s.count(keyRolloutHead)
	if err != nil {
		return nil, err
	}
	tail, err := s.count(keyRolloutTail)
	if err != nil {
		return nil, err
	}

	n := tail - head
	if max < n {
		n = max
	}
	if n <= 0 {
		return nil, nil
	}

	payloads := make([][]byte, n)
	batch := new(leveldb.Batch)
	for i := 0; i < n; i++ {
		buf, err := s.db.Get(rolloutKey(head+i), s.rOpts)
		if err != nil {
			return nil, errors.Wrapf(err, "reading rollout %d", head+i)
		}

		payloads[i] = buf
		batch.Delete(rolloutKey(head + i))
	}
	batch.Put(keyRolloutHead, encodeCount(head+n))
	if err := s.db.Write(batch, s.wOpts); err != nil {
		return nil, errors.Wrap(err, "popping rollouts")
	}

	return payloads, nil
}

func (s *Store) count(key []byte) (int, error) {
	buf, err := s.db.Get(key, s.rOpts)
	if err == leveldb.ErrNotFound {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrapf(err, "reading %s", key)
	}

	n, ok := binary.Uvarint(buf)
	if ok <= 0 {
		return 0, errors.Errorf("corrupt counter %s: %v", key, buf)
	}

	return int(n), nil
}

func (s *Store) quality(index int) (float64, error) {
	buf, err := s.db.Get(qualityKey(index), s.rOpts)
	if err != nil {
		return 0, errors.Wrapf(err, "reading quality %d", index)
	}

	return decodeFloat(buf), nil
}

func opponentKey(index int) []byte { return indexKey('o', index) }
func qualityKey(index int) []byte  { return indexKey('q', index) }
func rolloutKey(seq int) []byte    { return indexKey('r', seq) }

func indexKey(prefix byte, index int) []byte {
	var buf [1 + binary.MaxVarintLen64]byte
	buf[0] = prefix
	n := binary.PutUvarint(buf[1:], uint64(index))
	return buf[:1+n]
}

func encodeCount(n int) []byte {
	var buf [binary.MaxVarintLen64]byte
	m := binary.PutUvarint(buf[:], uint64(n))
	return buf[:m]
}

func encodeFloat(f float64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	return buf[:]
}

func decodeFloat(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf))
}
