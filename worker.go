package selfplay

import (
	"context"
	"math/rand"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const (
	defaultLatestFraction = 0.8
	defaultBackoff        = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second

	outcomeEps = 1e-9
)

// OutcomeFunc derives the signed outcome rate used for a historical
// opponent's quality update from a finished episode.
type OutcomeFunc func(result *EpisodeResult, policyID string) float64

// Matchup maps each seat of one episode to a policy identifier and
// holds the agent instance for each distinct policy. A single agent
// drives all seats assigned to its policy. Matchups are built fresh
// per episode and never persisted.
type Matchup struct {
	SeatPolicy map[string]string
	Agents     map[string]Agent
	Selections []SelectionEvent
}

// Worker runs self-play episodes in a loop: fetch the latest
// parameters, sample opponents for the non-reserved seats, drive the
// environment to completion, then push the collected rollouts to the
// store's queue and report quality updates for every historical
// opponent used.
//
// A Worker is single-threaded; run multiple Worker processes for
// parallel collection. All coordination goes through the PoolStore.
type Worker struct {
	ID     string
	Store  PoolStore
	Env    Environment
	Loader AgentLoader

	// LatestFraction is the target fraction of seats using the latest
	// policy. Defaults to 0.8.
	LatestFraction float64

	// Outcome converts an episode result into the signed rate for one
	// historical opponent's quality update. Defaults to a win/loss/draw
	// sign comparing the opponent's mean reward against the latest
	// policy's seats.
	Outcome OutcomeFunc

	// Backoff is the initial delay before retrying a transient store
	// failure; it doubles per attempt up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	Rng *rand.Rand

	sampler       *Sampler
	agents        map[int]Agent // Historical snapshots are immutable, so cache forever.
	latestAgent   Agent
	latestVersion int
	episodeID     int
}

// Run executes episodes until ctx is cancelled. Recoverable failures
// (store unreachable, environment fault) abandon the current episode
// and continue; they never terminate the loop.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.init(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			glog.Warningf("[%s] episode abandoned: %v", w.ID, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.Backoff):
			}
		}
	}
}

func (w *Worker) init() error {
	if w.Store == nil || w.Env == nil || w.Loader == nil {
		return errors.New("worker requires Store, Env and Loader")
	}

	if w.LatestFraction == 0 {
		w.LatestFraction = defaultLatestFraction
	}
	if w.Outcome == nil {
		w.Outcome = defaultOutcome
	}
	if w.Backoff <= 0 {
		w.Backoff = defaultBackoff
	}
	if w.MaxBackoff < w.Backoff {
		w.MaxBackoff = defaultMaxBackoff
	}
	if w.Rng == nil {
		w.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	w.sampler = &Sampler{
		Store:          w.Store,
		LatestFraction: w.LatestFraction,
		Rng:            w.Rng,
	}
	w.agents = make(map[int]Agent)
	return nil
}

func (w *Worker) runOnce(ctx context.Context) error {
	latest, err := w.fetchLatest(ctx)
	if err != nil {
		return err
	}

	matchup, err := w.buildMatchup(latest)
	if err != nil {
		return err
	}

	result, err := w.runEpisode(matchup)
	if err != nil {
		return errors.Wrap(err, "environment fault")
	}

	return w.emitResults(ctx, result, matchup.Selections)
}

// fetchLatest reads the latest published parameters, retrying with
// backoff while the store is unreachable or the learner has not
// published anything yet.
func (w *Worker) fetchLatest(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := w.retryStore(ctx, "fetching latest parameters", func() error {
		s, err := w.Store.ReadLatest()
		if errors.Cause(err) == ErrNoLatest {
			return &TransientError{Err: err}
		}
		if err != nil {
			return err
		}

		snap = s
		return nil
	})
	return snap, err
}

func (w *Worker) buildMatchup(latest Snapshot) (*Matchup, error) {
	seats := w.Env.Seats()
	assignment, err := w.sampler.Sample(len(seats))
	if err != nil {
		return nil, err
	}

	if w.latestAgent == nil || w.latestVersion != latest.Version {
		agent, err := w.Loader.Load(latest)
		if err != nil {
			return nil, errors.Wrapf(err, "loading latest v%d", latest.Version)
		}

		w.latestAgent = agent
		w.latestVersion = latest.Version
	}

	m := &Matchup{
		SeatPolicy: make(map[string]string, len(seats)),
		Agents:     map[string]Agent{LatestID: w.latestAgent},
		Selections: assignment.Selections,
	}

	for i, seat := range seats {
		m.SeatPolicy[seat] = assignment.Policies[i]
	}

	for _, sel := range assignment.Selections {
		id := HistoricalID(sel.Index)
		if _, ok := m.Agents[id]; ok {
			continue
		}

		agent, err := w.historicalAgent(sel.Index)
		if err != nil {
			return nil, err
		}

		m.Agents[id] = agent
	}

	return m, nil
}

func (w *Worker) historicalAgent(index int) (Agent, error) {
	if agent, ok := w.agents[index]; ok {
		return agent, nil
	}

	snap, err := w.Store.ReadSnapshot(index)
	if err != nil {
		return nil, errors.Wrapf(err, "reading snapshot %d", index)
	}

	agent, err := w.Loader.Load(snap)
	if err != nil {
		return nil, errors.Wrapf(err, "loading snapshot %d", index)
	}

	w.agents[index] = agent
	return agent, nil
}

// runEpisode steps the environment until every seat has terminated or
// been truncated. Seats may end at different times: ended seats stop
// being stepped, their agent is notified exactly once, and the episode
// continues with the remaining seats.
func (w *Worker) runEpisode(m *Matchup) (*EpisodeResult, error) {
	w.episodeID++

	obs, err := w.Env.Reset()
	if err != nil {
		return nil, err
	}

	seats := w.Env.Seats()
	active := make(map[string]bool, len(seats))
	rollouts := make(map[string]*Rollout, len(seats))
	for _, seat := range seats {
		active[seat] = true
		rollouts[seat] = &Rollout{
			WorkerID:  w.ID,
			EpisodeID: w.episodeID,
			Seat:      seat,
			PolicyID:  m.SeatPolicy[seat],
		}
	}

	var steps int
	for len(active) > 0 {
		actions := make(map[string][]float64, len(active))
		for id, agent := range m.Agents {
			batch := make(map[string][]float64)
			for seat := range active {
				if m.SeatPolicy[seat] == id {
					batch[seat] = obs[seat]
				}
			}

			if len(batch) == 0 {
				continue
			}

			agentActions, err := agent.Act(batch)
			if err != nil {
				return nil, errors.Wrapf(err, "agent %s", id)
			}

			for seat, action := range agentActions {
				actions[seat] = action
			}
		}

		step, err := w.Env.Step(actions)
		if err != nil {
			return nil, err
		}
		steps++

		for seat := range active {
			r := rollouts[seat]
			r.Transitions = append(r.Transitions, Transition{
				Obs:        obs[seat],
				Action:     actions[seat],
				Reward:     step.Rewards[seat],
				Terminated: step.Terminated[seat],
				Truncated:  step.Truncated[seat],
			})
			r.TotalReward += step.Rewards[seat]
		}

		// Notify each agent once per step about all of its seats that
		// just ended, then drop those seats from the episode.
		endedByPolicy := make(map[string]map[string]bool)
		for seat := range active {
			if step.Terminated[seat] || step.Truncated[seat] {
				id := m.SeatPolicy[seat]
				if endedByPolicy[id] == nil {
					endedByPolicy[id] = make(map[string]bool)
				}
				endedByPolicy[id][seat] = step.Truncated[seat]
			}
		}

		for id, truncated := range endedByPolicy {
			finalObs := make(map[string][]float64, len(truncated))
			for seat := range truncated {
				finalObs[seat] = step.Observations[seat]
			}

			m.Agents[id].End(finalObs, truncated)
			for seat := range truncated {
				delete(active, seat)
			}
		}

		for seat, o := range step.Observations {
			obs[seat] = o
		}
	}

	result := &EpisodeResult{
		Steps:       steps,
		SeatPolicy:  m.SeatPolicy,
		SeatRewards: make(map[string]float64, len(seats)),
		Rollouts:    make([]*Rollout, 0, len(seats)),
	}
	for _, seat := range seats {
		result.SeatRewards[seat] = rollouts[seat].TotalReward
		result.Rollouts = append(result.Rollouts, rollouts[seat])
	}

	return result, nil
}

// emitResults pushes the episode's rollouts to the store queue and
// applies a quality update for every historical opponent selection.
// Transient store failures are retried with backoff: a dropped quality
// update would bias all future sampling.
func (w *Worker) emitResults(ctx context.Context, result *EpisodeResult, selections []SelectionEvent) error {
	payloads := make([][]byte, len(result.Rollouts))
	for i, r := range result.Rollouts {
		buf, err := r.MarshalBinary()
		if err != nil {
			return errors.Wrap(err, "encoding rollout")
		}
		payloads[i] = buf
	}

	if err := w.retryStore(ctx, "pushing rollouts", func() error {
		return w.Store.PushRollouts(payloads)
	}); err != nil {
		return err
	}

	for _, sel := range selections {
		rate := w.Outcome(result, HistoricalID(sel.Index))
		if rate == 0 {
			continue
		}

		var poolSize int
		if err := w.retryStore(ctx, "reading pool size", func() error {
			n, err := w.Store.NumOpponents()
			if err != nil {
				return err
			}
			poolSize = n
			return nil
		}); err != nil {
			return err
		}

		delta := QualityDelta(poolSize, sel.Prob, rate)
		if err := w.retryStore(ctx, "applying quality delta", func() error {
			err := w.Store.ApplyQualityDelta(sel.Index, delta)
			if errors.Cause(err) == ErrIndexOutOfRange {
				glog.Warningf("[%s] dropping stale quality update for index %d", w.ID, sel.Index)
				return nil
			}
			return err
		}); err != nil {
			return err
		}
	}

	glog.V(1).Infof("[%s] episode %d: %d steps, %d rollouts, %d opponent updates",
		w.ID, w.episodeID, result.Steps, len(result.Rollouts), len(selections))
	return nil
}

// retryStore runs op, retrying transient failures with exponential
// backoff until success, a permanent error, or ctx cancellation.
func (w *Worker) retryStore(ctx context.Context, what string, op func() error) error {
	backoff := w.Backoff
	for {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}

		glog.Warningf("[%s] %s: %v (retrying in %v)", w.ID, what, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > w.MaxBackoff {
			backoff = w.MaxBackoff
		}
	}
}

// defaultOutcome compares the mean total reward of the seats driven by
// policyID against the mean for the latest policy's seats and squashes
// the difference to a win/loss/draw sign.
func defaultOutcome(result *EpisodeResult, policyID string) float64 {
	var oppSum, latSum float64
	var oppN, latN int
	for seat, id := range result.SeatPolicy {
		reward := result.SeatRewards[seat]
		if id == policyID {
			oppSum += reward
			oppN++
		}
		if id == LatestID {
			latSum += reward
			latN++
		}
	}

	if oppN == 0 || latN == 0 {
		return 0
	}

	diff := oppSum/float64(oppN) - latSum/float64(latN)
	switch {
	case diff > outcomeEps:
		return 1
	case diff < -outcomeEps:
		return -1
	}
	return 0
}
