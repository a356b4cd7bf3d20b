// Package prop is a small property-based testing harness. Trials run on a
// worker pool with per-trial seeds, so a failure reproduces from the seed
// alone; the lowest failing trial is reported and then shrunk.
package prop

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Generator produces a value of type T from a PRNG and a size hint.
type Generator[T any] func(r *rand.Rand, size int) T

// Shrinker proposes smaller candidates for a failing value.
type Shrinker[T any] func(v T) []T

// Options control property checking.
type Options struct {
	Trials          int           // number of trials; default 200
	Seed            int64         // 0 means time.Now().UnixNano()
	Size            int           // size hint for generators; default 30
	Workers         int           // <=0 means GOMAXPROCS
	MaxShrinkRounds int           // default 200
	MaxShrinkTime   time.Duration // 0 disables the limit
}

// Result is the outcome of a property check.
type Result[T any] struct {
	Passed       int
	Failed       bool
	Trial        int
	Input        T
	Shrunk       T
	ShrinkRounds int
	Seed         int64
	Took         time.Duration
}

func (r Result[T]) String() string {
	if !r.Failed {
		return fmt.Sprintf("ok: %d trials (seed %d, %s)", r.Passed, r.Seed, r.Took)
	}
	return fmt.Sprintf("trial %d failed (seed %d): input %v, shrunk to %v after %d rounds",
		r.Trial, r.Seed, r.Input, r.Shrunk, r.ShrinkRounds)
}

// ForAll checks property against generated inputs. shrink may be nil.
func ForAll[T any](gen Generator[T], shrink Shrinker[T], property func(T) bool, opts Options) Result[T] {
	start := time.Now()
	if opts.Trials <= 0 {
		opts.Trials = 200
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Size <= 0 {
		opts.Size = 30
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.MaxShrinkRounds <= 0 {
		opts.MaxShrinkRounds = 200
	}

	res := Result[T]{Seed: opts.Seed, Trial: -1}
	var mu sync.Mutex
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := new(errgroup.Group)
	g.SetLimit(opts.Workers)
	for i := 0; i < opts.Trials && ctx.Err() == nil; i++ {
		g.Go(func() error {
			r := rand.New(rand.NewSource(deriveSeed(opts.Seed, i)))
			v := gen(r, opts.Size)
			ok := property(v)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case ok:
				res.Passed++
			case res.Trial < 0 || i < res.Trial:
				res.Failed, res.Trial, res.Input = true, i, v
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	if res.Failed {
		res.Shrunk, res.ShrinkRounds = shrinkLoop(res.Input, shrink, property, opts)
	}
	res.Took = time.Since(start)
	return res
}

// shrinkLoop greedily replaces v with the first failing candidate until no
// candidate fails or a limit is hit.
func shrinkLoop[T any](v T, shrink Shrinker[T], property func(T) bool, opts Options) (T, int) {
	if shrink == nil {
		return v, 0
	}
	var deadline time.Time
	if opts.MaxShrinkTime > 0 {
		deadline = time.Now().Add(opts.MaxShrinkTime)
	}
	rounds := 0
	for rounds < opts.MaxShrinkRounds {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		progressed := false
		for _, c := range shrink(v) {
			if !property(c) {
				v, progressed = c, true
				break
			}
		}
		if !progressed {
			break
		}
		rounds++
	}
	return v, rounds
}

// deriveSeed mixes the base seed with the trial index.
func deriveSeed(base int64, idx int) int64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(base))
	binary.LittleEndian.PutUint64(b[8:16], uint64(idx))
	h := sha256.Sum256(b[:])
	return int64(binary.LittleEndian.Uint64(h[0:8]))
}
