// Command rollout-worker collects self-play episodes against a remote
// pool server, using the built-in gridworld environment.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	selfplay "github.com/rlworks/go-selfplay"
	"github.com/rlworks/go-selfplay/gridworld"
	"github.com/rlworks/go-selfplay/poolhttp"
)

func main() {
	storeURL := flag.String("store", "http://localhost:9100", "Pool server URL")
	workerID := flag.String("id", "", "Worker identifier (default worker-<pid>)")
	numSeats := flag.Int("seats", 4, "Seats per episode")
	latestFraction := flag.Float64("latest-frac", 0.8, "Target fraction of seats on the latest policy")
	maxSteps := flag.Int("max-steps", 240, "Episode step cap")
	seed := flag.Int64("seed", 0, "RNG seed (default time-based)")
	bootstrap := flag.Bool("bootstrap", false, "Publish an initial policy if the pool is empty")
	flag.Parse()
	defer glog.Flush()

	if *workerID == "" {
		*workerID = fmt.Sprintf("worker-%d", os.Getpid())
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	rng := rand.New(rand.NewSource(*seed))
	store := poolhttp.NewClient(*storeURL)

	if *bootstrap {
		if err := bootstrapPool(store, rng); err != nil {
			glog.Exit(err)
		}
	}

	seats := make([]string, *numSeats)
	for i := range seats {
		if i < *numSeats/2 {
			seats[i] = fmt.Sprintf("blue-%d", i)
		} else {
			seats[i] = fmt.Sprintf("orange-%d", i-*numSeats/2)
		}
	}

	worker := &selfplay.Worker{
		ID:     *workerID,
		Store:  store,
		Loader: gridworld.Loader{},
		Env: gridworld.NewEnv(gridworld.Config{
			Seats:    seats,
			MaxSteps: *maxSteps,
			Rng:      rng,
		}),
		LatestFraction: *latestFraction,
		Rng:            rng,
	}

	glog.Infof("[%s] starting against %s (%d seats)", *workerID, *storeURL, *numSeats)
	glog.Exit(worker.Run(context.Background()))
}

// bootstrapPool publishes an initial random policy so workers have
// something to fetch before the learner comes up.
func bootstrapPool(store selfplay.PoolStore, rng *rand.Rand) error {
	if _, err := store.ReadLatest(); err == nil {
		return nil
	} else if errors.Cause(err) != selfplay.ErrNoLatest {
		return err
	}

	params, err := gridworld.Weights{Gain: rng.Float64()}.Marshal()
	if err != nil {
		return err
	}

	if err := store.PublishLatest(params, 0); err != nil {
		return errors.Wrap(err, "publishing bootstrap policy")
	}

	glog.Info("published bootstrap policy v0")
	return nil
}
