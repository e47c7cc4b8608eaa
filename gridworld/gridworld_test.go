package gridworld

import (
	"math"
	"math/rand"
	"testing"

	selfplay "github.com/rlworks/go-selfplay"
)

func loadAgent(t *testing.T, gain float64) selfplay.Agent {
	t.Helper()
	params, err := Weights{Gain: gain}.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	agent, err := Loader{}.Load(selfplay.Snapshot{Params: params})
	if err != nil {
		t.Fatal(err)
	}
	return agent
}

func TestSeatsTerminateIndependently(t *testing.T) {
	env := NewEnv(Config{
		Seats:    []string{"blue-0", "orange-0"},
		MaxSteps: 100,
		MinGoal:  3,
		MaxGoal:  30,
		Rng:      rand.New(rand.NewSource(1)),
	})
	agent := loadAgent(t, 5.0)

	obs, err := env.Reset()
	if err != nil {
		t.Fatal(err)
	}

	active := map[string]bool{"blue-0": true, "orange-0": true}
	doneAt := map[string]int{}
	for step := 1; len(active) > 0 && step <= 100; step++ {
		batch := make(map[string][]float64, len(active))
		for seat := range active {
			batch[seat] = obs[seat]
		}

		actions, err := agent.Act(batch)
		if err != nil {
			t.Fatal(err)
		}

		result, err := env.Step(actions)
		if err != nil {
			t.Fatal(err)
		}

		for seat := range batch {
			if result.Terminated[seat] {
				doneAt[seat] = step
				delete(active, seat)
			}
			obs[seat] = result.Observations[seat]
		}
	}

	if len(doneAt) != 2 {
		t.Fatalf("not all seats terminated: %v", doneAt)
	}

	// Max-speed agents need ~goal steps; distinct goals mean distinct
	// finish times.
	if doneAt["blue-0"] == doneAt["orange-0"] {
		t.Errorf("seats finished at the same step (%d); goals should differ", doneAt["blue-0"])
	}
}

func TestTruncationAtMaxSteps(t *testing.T) {
	env := NewEnv(Config{
		Seats:    []string{"blue-0"},
		MaxSteps: 3,
		MinGoal:  10,
		MaxGoal:  20,
		Rng:      rand.New(rand.NewSource(2)),
	})

	obs, err := env.Reset()
	if err != nil {
		t.Fatal(err)
	}

	// A frozen agent never reaches its goal.
	agent := loadAgent(t, 0.0)
	var result *selfplay.StepResult
	for step := 0; step < 3; step++ {
		actions, err := agent.Act(map[string][]float64{"blue-0": obs["blue-0"]})
		if err != nil {
			t.Fatal(err)
		}
		if result, err = env.Step(actions); err != nil {
			t.Fatal(err)
		}
	}

	if !result.Truncated["blue-0"] || result.Terminated["blue-0"] {
		t.Errorf("expected truncation at max steps: %+v", result)
	}
}

func TestAgentClampsVelocity(t *testing.T) {
	agent := loadAgent(t, 100.0)
	actions, err := agent.Act(map[string][]float64{"blue-0": {0, 50}})
	if err != nil {
		t.Fatal(err)
	}

	if v := actions["blue-0"][0]; v != 1.0 {
		t.Errorf("velocity %v, want clamped to 1.0", v)
	}
}

func TestRewardIsDistanceClosed(t *testing.T) {
	env := NewEnv(Config{
		Seats:   []string{"blue-0"},
		MinGoal: 5,
		MaxGoal: 6,
		Rng:     rand.New(rand.NewSource(3)),
	})
	if _, err := env.Reset(); err != nil {
		t.Fatal(err)
	}

	result, err := env.Step(map[string][]float64{"blue-0": {1.0}})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(result.Rewards["blue-0"]-1.0) > 1e-9 {
		t.Errorf("reward %v, want 1.0 for one full step toward the goal", result.Rewards["blue-0"])
	}
}
