package selfplay

import (
	"bytes"
	"encoding/gob"
)

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *Rollout) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(r.WorkerID); err != nil {
		return nil, err
	}

	if err := enc.Encode(r.EpisodeID); err != nil {
		return nil, err
	}

	if err := enc.Encode(r.Seat); err != nil {
		return nil, err
	}

	if err := enc.Encode(r.PolicyID); err != nil {
		return nil, err
	}

	if err := enc.Encode(r.Transitions); err != nil {
		return nil, err
	}

	if err := enc.Encode(r.TotalReward); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Rollout) UnmarshalBinary(buf []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(buf))

	if err := dec.Decode(&r.WorkerID); err != nil {
		return err
	}

	if err := dec.Decode(&r.EpisodeID); err != nil {
		return err
	}

	if err := dec.Decode(&r.Seat); err != nil {
		return err
	}

	if err := dec.Decode(&r.PolicyID); err != nil {
		return err
	}

	if err := dec.Decode(&r.Transitions); err != nil {
		return err
	}

	return dec.Decode(&r.TotalReward)
}
