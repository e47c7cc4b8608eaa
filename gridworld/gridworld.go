// Package gridworld provides a minimal multi-seat environment and a
// matching agent for exercising the rollout pipeline end to end
// without an external game process.
//
// Each seat chases its own goal position on a line. Seats whose goals
// are farther away finish later, so episodes naturally exercise
// partial termination.
package gridworld

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	selfplay "github.com/rlworks/go-selfplay"
)

const goalTolerance = 0.05

// Config configures an Env.
type Config struct {
	Seats    []string
	MaxSteps int
	MinGoal  float64
	MaxGoal  float64
	Rng      *rand.Rand
}

// Env is a line-chase environment. It implements selfplay.Environment.
type Env struct {
	cfg Config

	pos   map[string]float64
	goals map[string]float64
	steps int
	done  map[string]bool
}

// NewEnv returns an Env for the given configuration.
func NewEnv(cfg Config) *Env {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 200
	}
	if cfg.MaxGoal <= cfg.MinGoal {
		cfg.MinGoal, cfg.MaxGoal = 2.0, 20.0
	}
	if cfg.Rng == nil {
		cfg.Rng = rand.New(rand.NewSource(rand.Int63()))
	}

	return &Env{cfg: cfg}
}

// Seats implements selfplay.Environment.
func (e *Env) Seats() []string {
	return e.cfg.Seats
}

// Reset implements selfplay.Environment.
func (e *Env) Reset() (map[string][]float64, error) {
	e.pos = make(map[string]float64, len(e.cfg.Seats))
	e.goals = make(map[string]float64, len(e.cfg.Seats))
	e.done = make(map[string]bool, len(e.cfg.Seats))
	e.steps = 0

	obs := make(map[string][]float64, len(e.cfg.Seats))
	for _, seat := range e.cfg.Seats {
		e.pos[seat] = 0
		e.goals[seat] = e.cfg.MinGoal + e.cfg.Rng.Float64()*(e.cfg.MaxGoal-e.cfg.MinGoal)
		obs[seat] = e.observe(seat)
	}

	return obs, nil
}

// Step implements selfplay.Environment. Velocity actions are clamped
// to [-1, 1]; reward is the distance closed this step.
func (e *Env) Step(actions map[string][]float64) (*selfplay.StepResult, error) {
	if e.pos == nil {
		return nil, errors.New("gridworld: Step before Reset")
	}

	e.steps++
	result := &selfplay.StepResult{
		Observations: make(map[string][]float64, len(actions)),
		Rewards:      make(map[string]float64, len(actions)),
		Terminated:   make(map[string]bool, len(actions)),
		Truncated:    make(map[string]bool, len(actions)),
	}

	for seat, action := range actions {
		if e.done[seat] {
			return nil, errors.Errorf("gridworld: action for finished seat %s", seat)
		}
		if len(action) != 1 {
			return nil, errors.Errorf("gridworld: seat %s: want 1-dim action, got %d", seat, len(action))
		}

		v := clamp(action[0], -1, 1)
		before := math.Abs(e.goals[seat] - e.pos[seat])
		e.pos[seat] += v
		after := math.Abs(e.goals[seat] - e.pos[seat])

		terminated := after <= goalTolerance
		truncated := !terminated && e.steps >= e.cfg.MaxSteps
		if terminated || truncated {
			e.done[seat] = true
		}

		result.Observations[seat] = e.observe(seat)
		result.Rewards[seat] = before - after
		result.Terminated[seat] = terminated
		result.Truncated[seat] = truncated
	}

	return result, nil
}

func (e *Env) observe(seat string) []float64 {
	return []float64{e.pos[seat], e.goals[seat]}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
