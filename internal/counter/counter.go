// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package counter is the extension surface for per-scenario/per-sequence
// observation plug-ins: an ordered registry of named Plugins, each given the
// chance to observe every processed read's posterior marginals and dump
// accumulated state at checkpoints engine drives.
package counter

import (
	"fmt"
	"io"

	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
)

// SequenceStats carries the per-read quantities a Plugin's CountSequence
// needs but that are cheaper to compute once in internal/scenario than to
// re-derive from the marginals tensor.
type SequenceStats struct {
	Likelihood   float64
	MeanErrors   float64
	NumScenarios int
}

// Plugin is one counter implementation. Implementations must not mutate the
// Model or Tensor passed to them; they observe and accumulate into their
// own state.
type Plugin interface {
	// Initialize is called once per worker before the first sequence of an
	// EM iteration, with the model the marginals below are indexed against.
	Initialize(m *modelgraph.Model) error

	// CountSequence folds one read's posterior-weighted single-sequence
	// marginals into the plug-in's running accumulator. marginals has
	// already been normalised by the read's total likelihood; it must not be
	// retained past the call.
	CountSequence(stats SequenceStats, marginals *marginal.Tensor) error

	// DumpSequenceData writes this plug-in's contribution for one read
	// (seqIndex) at the given iteration to w, in whatever format the
	// plug-in defines. A no-op plug-in for this checkpoint may write
	// nothing.
	DumpSequenceData(w io.Writer, seqIndex, iter int) error

	// DumpDataSummary writes the plug-in's end-of-iteration accumulated
	// state to w.
	DumpDataSummary(w io.Writer, iter int) error

	// AddToCounter merges another plug-in instance's accumulator into this
	// one's. other is guaranteed to be the same dynamic type as the
	// receiver; used by internal/engine to reduce per-worker accumulators
	// into the shared master at the end of an iteration.
	AddToCounter(other Plugin) error

	// Copy returns a fresh, independent instance seeded from the plug-in's
	// configuration but with a zeroed accumulator, for a worker to own
	// across one iteration.
	Copy() Plugin

	// LastIterOnly reports whether this plug-in should only run during the
	// final EM iteration (e.g. expensive per-scenario dumps not worth
	// paying for on every pass).
	LastIterOnly() bool
}

// Registry is an ordered collection of named plug-ins. Registration order
// is preserved by All and Names, matching the event graph's own name-keyed,
// insertion-ordered bookkeeping in internal/modelgraph.
type Registry struct {
	order  []string
	byName map[string]Plugin
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Plugin)}
}

// Register adds plugin under name. name must not already be registered.
func (r *Registry) Register(name string, plugin Plugin) error {
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("counter: plug-in %q already registered", name)
	}
	r.order = append(r.order, name)
	r.byName[name] = plugin
	return nil
}

// Names returns the registered plug-in names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Plugin returns the named plug-in, or false if no such name is registered.
func (r *Registry) Plugin(name string) (Plugin, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Initialize calls Initialize on every registered plug-in, in registration
// order, stopping at the first error.
func (r *Registry) Initialize(m *modelgraph.Model) error {
	for _, name := range r.order {
		if err := r.byName[name].Initialize(m); err != nil {
			return fmt.Errorf("counter: initializing %q: %w", name, err)
		}
	}
	return nil
}

// CountSequence fans one read's stats and marginals out to every registered
// plug-in, in registration order. lastIter selects whether plug-ins with
// LastIterOnly are included.
func (r *Registry) CountSequence(stats SequenceStats, marginals *marginal.Tensor, lastIter bool) error {
	for _, name := range r.order {
		p := r.byName[name]
		if p.LastIterOnly() && !lastIter {
			continue
		}
		if err := p.CountSequence(stats, marginals); err != nil {
			return fmt.Errorf("counter: counting sequence in %q: %w", name, err)
		}
	}
	return nil
}

// DumpSequenceData fans a per-read dump out to every registered plug-in, in
// registration order.
func (r *Registry) DumpSequenceData(w io.Writer, seqIndex, iter int, lastIter bool) error {
	for _, name := range r.order {
		p := r.byName[name]
		if p.LastIterOnly() && !lastIter {
			continue
		}
		if err := p.DumpSequenceData(w, seqIndex, iter); err != nil {
			return fmt.Errorf("counter: dumping sequence data for %q: %w", name, err)
		}
	}
	return nil
}

// DumpDataSummary fans an end-of-iteration dump out to every registered
// plug-in, in registration order.
func (r *Registry) DumpDataSummary(w io.Writer, iter int, lastIter bool) error {
	for _, name := range r.order {
		p := r.byName[name]
		if p.LastIterOnly() && !lastIter {
			continue
		}
		if err := p.DumpDataSummary(w, iter); err != nil {
			return fmt.Errorf("counter: dumping data summary for %q: %w", name, err)
		}
	}
	return nil
}

// Copy returns a new Registry with a fresh Copy of every registered
// plug-in, for a worker to own across one EM iteration.
func (r *Registry) Copy() *Registry {
	out := NewRegistry()
	for _, name := range r.order {
		out.order = append(out.order, name)
		out.byName[name] = r.byName[name].Copy()
	}
	return out
}

// AddToCounter merges src's plug-in accumulators into r's, name for name.
// r and src must have been registered with the same set of plug-in names
// (true whenever both descend from the same Copy, which is the only
// supported use: reducing per-worker registries into a shared master).
func (r *Registry) AddToCounter(src *Registry) error {
	for _, name := range r.order {
		other, ok := src.byName[name]
		if !ok {
			return fmt.Errorf("counter: source registry missing plug-in %q", name)
		}
		if err := r.byName[name].AddToCounter(other); err != nil {
			return fmt.Errorf("counter: merging %q: %w", name, err)
		}
	}
	return nil
}
