package selfplay

// Transition is one step of one seat's trajectory.
type Transition struct {
	Obs        []float64
	Action     []float64
	Reward     float64
	Terminated bool
	Truncated  bool
}

// Rollout is the recorded trajectory of one seat for one episode.
// It is owned by the worker until pushed to the store's rollout
// queue, after which ownership passes to the learner-side consumer.
type Rollout struct {
	WorkerID    string
	EpisodeID   int
	Seat        string
	PolicyID    string
	Transitions []Transition
	TotalReward float64
}

// EpisodeResult aggregates the outcome of one completed episode.
type EpisodeResult struct {
	// Steps is the episode length: the step at which the last active
	// seat finished, not the first.
	Steps int

	// SeatPolicy maps each seat to the identifier of the policy that
	// occupied it.
	SeatPolicy map[string]string

	// SeatRewards holds each seat's total reward over the episode.
	SeatRewards map[string]float64

	Rollouts []*Rollout
}
