package selfplay

import "fmt"

// LatestID is the policy identifier for the currently-training parameter set.
const LatestID = "latest"

// HistoricalID returns the policy identifier for the frozen snapshot
// at the given pool index.
func HistoricalID(index int) string {
	return fmt.Sprintf("model-%d", index)
}

// Snapshot is one versioned set of serialized policy parameters.
// Params are opaque to this package; only the learner and the
// AgentLoader know how to interpret them.
type Snapshot struct {
	Params  []byte
	Version int
}

// PoolStore is the shared store coordinating all workers and the learner.
// Implementations must be safe under arbitrary interleaving from many
// worker processes plus one learner: every mutation is a single
// server-side unit, and ApplyQualityDelta in particular must be a true
// atomic read-modify-write against the score at the given index.
type PoolStore interface {
	// PublishLatest replaces the latest parameter blob and version
	// pointer as one visible unit. Readers never observe a blob paired
	// with a mismatched version.
	PublishLatest(params []byte, version int) error

	// ReadLatest returns the current latest parameters.
	// Returns ErrNoLatest if nothing has been published yet.
	ReadLatest() (Snapshot, error)

	// PromoteSnapshot appends a frozen snapshot to the historical pool
	// together with its initial quality (the maximum of the existing
	// qualities, or 0 for an empty pool) as one logical append pair.
	// It returns the index assigned to the new snapshot.
	PromoteSnapshot(params []byte) (int, error)

	// ReadSnapshot returns the historical snapshot at the given index.
	ReadSnapshot(index int) (Snapshot, error)

	// ReadQualities returns a point-in-time copy of the quality scores,
	// index-aligned with the historical snapshots.
	ReadQualities() ([]float64, error)

	// NumOpponents returns the current size of the historical pool.
	NumOpponents() (int, error)

	// ApplyQualityDelta atomically adds delta to the score at index.
	// Returns ErrIndexOutOfRange if index is past the end of the list;
	// the update must be dropped, never written out of bounds.
	ApplyQualityDelta(index int, delta float64) error

	// PushRollouts appends encoded rollout payloads to the work queue
	// consumed by the learner.
	PushRollouts(payloads [][]byte) error

	// PopRollouts removes and returns up to max payloads from the head
	// of the work queue.
	PopRollouts(max int) ([][]byte, error)
}

// Agent drives one or more seats in an episode. A single Agent instance
// may own several seats at once; Act receives the observation batch for
// all seats it currently owns and must return one action per seat.
type Agent interface {
	// Act returns an action for each seat in observations.
	Act(observations map[string][]float64) (map[string][]float64, error)

	// End notifies the agent that the given seats have finished, with
	// their final observations and whether each was truncated rather
	// than terminated. Called at most once per seat per episode.
	End(finalObservations map[string][]float64, truncated map[string]bool)
}

// AgentLoader constructs an Agent from stored policy parameters.
type AgentLoader interface {
	Load(snapshot Snapshot) (Agent, error)
}

// Environment is one external multi-seat game instance.
//
// Stepping may block indefinitely waiting on the external process;
// cancellation of a hung step is out of scope here.
type Environment interface {
	// Seats returns the seat identifiers for episodes under this
	// environment's current configuration.
	Seats() []string

	// Reset starts a new episode and returns initial observations
	// for every seat.
	Reset() (map[string][]float64, error)

	// Step advances the episode with the given actions. Actions are
	// provided only for seats still active; results cover those seats.
	Step(actions map[string][]float64) (*StepResult, error)
}

// StepResult holds the per-seat outcome of a single environment step.
type StepResult struct {
	Observations map[string][]float64
	Rewards      map[string]float64
	Terminated   map[string]bool
	Truncated    map[string]bool
}
