// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine is the concurrency and orchestration seam of one EM
// iteration: it fans a read set out across worker goroutines, each running
// internal/scenario's per-read kernel against its own deep-copied mutable
// state, and reduces the workers' accumulators into a shared master at the
// end.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kortschak/vdjrec/internal/align"
	"github.com/kortschak/vdjrec/internal/counter"
	"github.com/kortschak/vdjrec/internal/errormodel"
	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
	"github.com/kortschak/vdjrec/internal/nt"
	"github.com/kortschak/vdjrec/internal/scenario"
	"github.com/kortschak/vdjrec/internal/scratch"
)

// Read is one indexed input sequence to process during an iteration.
type Read struct {
	Index int
	Seq   []nt.Code
}

// SequenceLog is the per-read record of one inference log line; a
// caller-supplied OnSequenceLog hook renders it (internal/ioformat owns the
// actual wire format).
type SequenceLog struct {
	SeqProcessed int
	SeqIndex     int
	Sequence     []nt.Code
	NumVAligns   int
	NumJAligns   int
	Likelihood   float64
	MeanErrors   float64
	NumScenarios int
	BestScenario []scenario.BestRealisation
	Elapsed      time.Duration
}

// Config is the read-only configuration shared by every worker for the
// duration of one EM iteration: the template library and starting marginal
// tensor are read-only for the whole iteration; the next iteration's
// starting state is published only after every worker finishes, which is
// the caller's job once RunIteration returns.
//
// Model is not copied per worker: once built, a modelgraph.Model is never
// mutated by anything in this module, so concurrent read-only access from
// every worker goroutine is already safe in Go without a defensive deep
// copy. Only the genuinely mutable per-worker state (marginal accumulator,
// error-model counters, counter plug-ins) is copied.
type Config struct {
	Model           *modelgraph.Model
	Templates       []align.Template
	AlignOptions    align.Options
	ThresholdFactor float64

	// Counters is copied once per worker (Copy) and reduced back into a
	// fresh instance of the same shape at the end of the iteration. Pass an
	// empty *counter.Registry if no plug-ins are needed.
	Counters *counter.Registry
	// LastIter gates counter.Registry.LastIterOnly plug-ins.
	LastIter bool

	Workers       int
	ProgressEvery int

	// OnSequenceLog, if non-nil, is called once per processed read, in
	// completion order, under the iteration's single critical section.
	OnSequenceLog func(SequenceLog)
	// OnCounterDump, if non-nil, is called once per processed read,
	// immediately after OnSequenceLog under the same critical section, to
	// let the caller drive Registry.DumpSequenceData against the worker's
	// local counters.
	OnCounterDump func(workerCounters *counter.Registry, seqIndex int)
	// OnProgress, if non-nil, is called every ProgressEvery completed reads.
	OnProgress func(processed, total int)
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 1
}

func (c Config) progressEvery() int {
	if c.ProgressEvery > 0 {
		return c.ProgressEvery
	}
	return 50
}

// IterationResult is the reduced, order-independent outcome of one EM
// iteration: the merged marginals are order-independent because the
// reduction is commutative/associative addition.
type IterationResult struct {
	Tensor            *marginal.Tensor
	ErrorModel        *errormodel.Model
	Counters          *counter.Registry
	MeanLogLikelihood float64
	NumSequences      int
}

// RunIteration processes reads against tensor/em/cfg.Counters, returning the
// reduced per-iteration result. tensor and em are read-only for the
// duration of the call; the returned IterationResult's
// Tensor/ErrorModel/Counters are fresh instances, never aliases of the
// inputs.
//
// ctx is checked only between reads, never mid-read: a worker completes the
// current sequence before honouring an external cancellation signal.
func RunIteration(ctx context.Context, cfg Config, tensor *marginal.Tensor, em *errormodel.Model, reads []Read) (IterationResult, error) {
	masterTensor, err := marginal.ComputeSize(cfg.Model)
	if err != nil {
		return IterationResult{}, fmt.Errorf("engine: %w", err)
	}
	masterErr := em.Copy()
	masterCounters := cfg.Counters.Copy()
	if err := masterCounters.Initialize(cfg.Model); err != nil {
		return IterationResult{}, fmt.Errorf("engine: %w", err)
	}

	work := make(chan Read, len(reads))
	for _, r := range reads {
		work <- r
	}
	close(work)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		processed int
		totalLL   float64
		firstErr  error
	)
	total := len(reads)

	for i := 0; i < cfg.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			en, err := scenario.NewEnumerator(cfg.Model)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			workerTensor := tensor.Clone()
			if err := en.Initialize(workerTensor); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			workerErr := em.Copy()
			workerCounters := cfg.Counters.Copy()
			if err := workerCounters.Initialize(cfg.Model); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			accTotal, err := marginal.ComputeSize(cfg.Model)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			perReadAcc, err := marginal.ComputeSize(cfg.Model)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			sc := scratch.New()

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				read, ok := <-work
				if !ok {
					break
				}

				start := time.Now()
				alignments, err := align.AlignAll(read.Seq, cfg.Templates, cfg.AlignOptions)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("engine: sequence %d: %w", read.Index, err)
					}
					mu.Unlock()
					continue
				}

				perReadAcc.NullInitialize()
				sc.Reset()
				res, err := en.Run(read.Seq, alignments, workerTensor, perReadAcc, workerErr, sc, cfg.ThresholdFactor)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("engine: sequence %d: %w", read.Index, err)
					}
					mu.Unlock()
					continue
				}
				if err := accTotal.AddTensor(perReadAcc); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				stats := counter.SequenceStats{
					Likelihood:   res.Likelihood,
					MeanErrors:   res.MeanErrors,
					NumScenarios: res.NumScenarios,
				}
				if err := workerCounters.CountSequence(stats, perReadAcc, cfg.LastIter); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				elapsed := time.Since(start)

				mu.Lock()
				processed++
				totalLL += logOrNegInf(res.Likelihood)
				if cfg.OnSequenceLog != nil {
					cfg.OnSequenceLog(SequenceLog{
						SeqProcessed: processed,
						SeqIndex:     read.Index,
						Sequence:     read.Seq,
						NumVAligns:   len(alignments[align.V]),
						NumJAligns:   len(alignments[align.J]),
						Likelihood:   res.Likelihood,
						MeanErrors:   res.MeanErrors,
						NumScenarios: res.NumScenarios,
						BestScenario: res.BestScenario,
						Elapsed:      elapsed,
					})
				}
				if cfg.OnCounterDump != nil {
					cfg.OnCounterDump(workerCounters, read.Index)
				}
				if cfg.OnProgress != nil && processed%cfg.progressEvery() == 0 {
					cfg.OnProgress(processed, total)
				}
				mu.Unlock()
			}

			mu.Lock()
			defer mu.Unlock()
			if err := masterTensor.AddTensor(accTotal); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := masterErr.AddStats(workerErr); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := masterCounters.AddToCounter(workerCounters); err != nil && firstErr == nil {
				firstErr = err
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return IterationResult{}, firstErr
	}

	meanLL := 0.0
	if processed > 0 {
		meanLL = totalLL / float64(processed)
	}
	return IterationResult{
		Tensor:            masterTensor,
		ErrorModel:        masterErr,
		Counters:          masterCounters,
		MeanLogLikelihood: meanLL,
		NumSequences:      processed,
	}, nil
}

// logOrNegInf returns the natural log of p, or a large negative sentinel for
// p<=0 so a single zero-likelihood sequence doesn't turn the whole
// iteration's mean into NaN/-Inf.
func logOrNegInf(p float64) float64 {
	if p <= 0 {
		return -745 // below float64's smallest normal log-probability
	}
	return math.Log(p)
}
