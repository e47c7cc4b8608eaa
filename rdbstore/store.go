// Package rdbstore implements the selfplay pool store in a RocksDB
// database, rather than in memory.
//
// It is functionally equivalent to ldbstore but scales to much larger
// pools and rollout backlogs. Paired writes go through a RocksDB
// WriteBatch; quality updates run under a store-wide mutex. One
// process must own the database; serve it behind poolhttp for
// multi-process deployments.
package rdbstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"math"
	"sync"

	"github.com/pkg/errors"
	rocksdb "github.com/tecbot/gorocksdb"

	selfplay "github.com/rlworks/go-selfplay"
)

var (
	keyLatest        = []byte("latest")
	keyOpponentCount = []byte("opponent-count")
	keyRolloutHead   = []byte("rollout-head")
	keyRolloutTail   = []byte("rollout-tail")
)

// Params wraps the RocksDB configuration for a Store.
type Params struct {
	Path         string
	Options      *rocksdb.Options
	ReadOptions  *rocksdb.ReadOptions
	WriteOptions *rocksdb.WriteOptions
}

// DefaultParams returns a reasonable default configuration for a
// Store at the given db path.
func DefaultParams(path string) Params {
	opts := rocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)

	return Params{
		Path:         path,
		Options:      opts,
		ReadOptions:  rocksdb.NewDefaultReadOptions(),
		WriteOptions: rocksdb.NewDefaultWriteOptions(),
	}
}

// Close releases the resources associated with these Params.
func (p Params) Close() {
	p.Options.Destroy()
	p.ReadOptions.Destroy()
	p.WriteOptions.Destroy()
}

// Store is a selfplay.PoolStore backed by a RocksDB database on disk.
type Store struct {
	params Params
	db     *rocksdb.DB

	mx sync.Mutex
}

// New opens (or creates) a pool store with the given Params.
func New(params Params) (*Store, error) {
	db, err := rocksdb.OpenDb(params.Options, params.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening rocksdb at %s", params.Path)
	}

	return &Store{params: params, db: db}, nil
}

// Close implements io.Closer.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// PublishLatest implements selfplay.PoolStore. The blob and version
// are one record; the swap is a single atomic Put.
func (s *Store) PublishLatest(params []byte, version int) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(selfplay.Snapshot{Params: params, Version: version}); err != nil {
		return err
	}

	return s.db.Put(s.params.WriteOptions, keyLatest, buf.Bytes())
}

// ReadLatest implements selfplay.PoolStore.
func (s *Store) ReadLatest() (selfplay.Snapshot, error) {
	result, err := s.db.Get(s.params.ReadOptions, keyLatest)
	if err != nil {
		return selfplay.Snapshot{}, errors.Wrap(err, "reading latest")
	}
	defer result.Free()

	if len(result.Data()) == 0 {
		return selfplay.Snapshot{}, selfplay.ErrNoLatest
	}

	var snap selfplay.Snapshot
	if err := gob.NewDecoder(bytes.NewReader(result.Data())).Decode(&snap); err != nil {
		return selfplay.Snapshot{}, err
	}

	return snap, nil
}

// PromoteSnapshot implements selfplay.PoolStore.
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

	batch := rocksdb.NewWriteBatch()
	defer batch.Destroy()
	batch.Put(opponentKey(n), params)
	batch.Put(qualityKey(n), encodeFloat(quality))
	batch.Put(keyOpponentCount, encodeCount(n+1))
	if err := s.db.Write(s.params.WriteOptions, batch); err != nil {
		return 0, errors.Wrap(err, "promoting snapshot")
	}

	return n, nil
}

// ReadSnapshot implements selfplay.PoolStore.
func (s *Store) ReadSnapshot(index int) (selfplay.Snapshot, error) {
	result, err := s.db.Get(s.params.ReadOptions, opponentKey(index))
	if err != nil {
		return selfplay.Snapshot{}, errors.Wrapf(err, "reading snapshot %d", index)
	}
	defer result.Free()

	if len(result.Data()) == 0 {
		return selfplay.Snapshot{}, selfplay.ErrIndexOutOfRange
	}

	return selfplay.Snapshot{
		Params:  append([]byte(nil), result.Data()...),
		Version: index,
	}, nil
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

// ApplyQualityDelta implements selfplay.PoolStore.
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

	return s.db.Put(s.params.WriteOptions, qualityKey(index), encodeFloat(q+delta))
}

// PushRollouts implements selfplay.PoolStore.
func (s *Store) PushRollouts(payloads [][]byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	tail, err := s.count(keyRolloutTail)
	if err != nil {
		return err
	}

	batch := rocksdb.NewWriteBatch()
	defer batch.Destroy()
	for i, p := range payloads {
		batch.Put(rolloutKey(tail+i), p)
	}
	batch.Put(keyRolloutTail, encodeCount(tail+len(payloads)))
	return errors.Wrap(s.db.Write(s.params.WriteOptions, batch), "pushing rollouts")
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
	batch := rocksdb.NewWriteBatch()
	defer batch.Destroy()
	for i := 0; i < n; i++ {
		result, err := s.db.Get(s.params.ReadOptions, rolloutKey(head+i))
		if err != nil {
			return nil, errors.Wrapf(err, "reading rollout %d", head+i)
		}

		payloads[i] = append([]byte(nil), result.Data()...)
		result.Free()
		batch.Delete(rolloutKey(head + i))
	}
	batch.Put(keyRolloutHead, encodeCount(head+n))
	if err := s.db.Write(s.params.WriteOptions, batch); err != nil {
		return nil, errors.Wrap(err, "popping rollouts")
	}

	return payloads, nil
}

func (s *Store) count(key []byte) (int, error) {
	result, err := s.db.Get(s.params.ReadOptions, key)
	if err != nil {
		return 0, errors.Wrapf(err, "reading %s", key)
	}
	defer result.Free()

	if len(result.Data()) == 0 {
		return 0, nil
	}

	n, ok := binary.Uvarint(result.Data())
	if ok <= 0 {
		return 0, errors.Errorf("corrupt counter %s", key)
	}

	return int(n), nil
}

func (s *Store) quality(index int) (float64, error) {
	result, err := s.db.Get(s.params.ReadOptions, qualityKey(index))
	if err != nil {
		return 0, errors.Wrapf(err, "reading quality %d", index)
	}
	defer result.Free()

	if len(result.Data()) != 8 {
		return 0, errors.Errorf("corrupt quality record %d", index)
	}

	return decodeFloat(result.Data()), nil
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
