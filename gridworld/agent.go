package gridworld

import (
	"bytes"
	"encoding/gob"

	selfplay "github.com/rlworks/go-selfplay"
)

// Weights are the parameters of a proportional-control policy:
// velocity = clamp(Gain * (goal - pos)). Higher gain closes the
// distance faster, so skill is a single tunable scalar.
type Weights struct {
	Gain float64
}

// Marshal encodes w into an opaque parameter blob.
func (w Weights) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Agent implements selfplay.Agent for gridworld policies.
type Agent struct {
	weights Weights
}

// Act implements selfplay.Agent.
func (a *Agent) Act(observations map[string][]float64) (map[string][]float64, error) {
	actions := make(map[string][]float64, len(observations))
	for seat, obs := range observations {
		pos, goal := obs[0], obs[1]
		actions[seat] = []float64{clamp(a.weights.Gain*(goal-pos), -1, 1)}
	}
	return actions, nil
}

// End implements selfplay.Agent. Gridworld policies are stateless, so
// there is nothing to flush.
func (a *Agent) End(map[string][]float64, map[string]bool) {}

// Loader decodes Weights blobs into Agents. It implements
// selfplay.AgentLoader.
type Loader struct{}

// Load implements selfplay.AgentLoader.
func (Loader) Load(snap selfplay.Snapshot) (selfplay.Agent, error) {
	var w Weights
	if err := gob.NewDecoder(bytes.NewReader(snap.Params)).Decode(&w); err != nil {
		return nil, err
	}
	return &Agent{weights: w}, nil
}
