// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package marginal holds the packed conditional-probability tensor the
// scenario enumerator reads from and the EM reduction writes into.
//
// The tensor is a single flat []float64. Each event in a Model owns one
// contiguous block sized realisations(event) × Π realisations(parent) over
// its direct parents, laid out with the event's own realisation index
// varying fastest and parent dimensions nested in descending parent-priority
// order (ties broken lexicographically by name), mirroring the offset/stride
// scheme _examples/original_source/igor_src/Model_marginals.h's
// get_offsets_map builds.
package marginal

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/kortschak/vdjrec/internal/modelgraph"
)

// numCanonicalBases is the size of a DinucleotideMarkov event's own
// dimension and of its synthetic previous-base context (A, C, G, T; IUPAC
// ambiguity codes never appear as inserted-nucleotide realisations).
const numCanonicalBases = 4

// PrevBaseParent is the synthetic parent name ComputeSize gives a
// DinucleotideMarkov event's previous-base context dimension. Index 0 means
// "no previous base" (the chain's first position); indices 1..4 mean the
// previous base was nt.A..nt.T. Exported so internal/scenario can build the
// parentIdx map this event's Index/Get/Add calls need.
const PrevBaseParent = "$prev_base"

const prevBaseParent = PrevBaseParent

// block describes one event's region of the flat array.
type block struct {
	offset   int
	ownCount int
	parents  []parentDim
	size     int
}

type parentDim struct {
	name   string
	count  int
	stride int
}

// Tensor is the flat marginal array for one Model.
type Tensor struct {
	data   []float64
	blocks map[string]block
	order  []string // event names in the order blocks were laid out
}

// ComputeSize builds the block layout for m and returns an uninitialised
// Tensor of the right total size (all zero), mirroring
// Model_marginals::compute_size.
func ComputeSize(m *modelgraph.Model) (*Tensor, error) {
	queue, err := m.Queue()
	if err != nil {
		return nil, fmt.Errorf("marginal: %w", err)
	}

	t := &Tensor{blocks: make(map[string]block, len(queue))}
	offset := 0
	for _, e := range queue {
		parentsEvents, err := m.Parents(e.Name)
		if err != nil {
			return nil, fmt.Errorf("marginal: %w", err)
		}
		sort.Slice(parentsEvents, func(i, j int) bool {
			if parentsEvents[i].Priority != parentsEvents[j].Priority {
				return parentsEvents[i].Priority > parentsEvents[j].Priority
			}
			return parentsEvents[i].Name < parentsEvents[j].Name
		})

		ownCount := len(e.Realisations)
		if ownCount == 0 {
			ownCount = 1 // e.g. DinucMarkov events with no declared realisations still need one slot per conditioning context
		}
		if e.Type == modelgraph.DinucleotideMarkov {
			// DinucleotideMarkov's own realisations are the four canonical
			// bases by construction (internal/scenario never consults
			// e.Realisations for this event type), regardless of what, if
			// anything, was declared.
			ownCount = numCanonicalBases
		}

		stride := ownCount
		dims := make([]parentDim, len(parentsEvents))
		for i, p := range parentsEvents {
			pc := len(p.Realisations)
			if pc == 0 {
				pc = 1
			}
			dims[i] = parentDim{name: p.Name, count: pc, stride: stride}
			stride *= pc
		}
		if e.Type == modelgraph.DinucleotideMarkov {
			// Synthetic "previous inserted base" dimension: the Markov chain
			// is conditioned on the position immediately before it within the
			// same insertion, not on any other modelgraph event, so it is
			// not a graph parent. One extra context value (prevBaseNone)
			// covers the chain's first base, which has no predecessor.
			dims = append(dims, parentDim{name: prevBaseParent, count: numCanonicalBases + 1, stride: stride})
			stride *= numCanonicalBases + 1
		}

		size := stride
		t.blocks[e.Name] = block{offset: offset, ownCount: ownCount, parents: dims, size: size}
		t.order = append(t.order, e.Name)
		offset += size
	}
	t.data = make([]float64, offset)
	return t, nil
}

// Len returns the total number of entries in the tensor.
func (t *Tensor) Len() int { return len(t.data) }

// NullInitialize zeroes every entry.
func (t *Tensor) NullInitialize() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// UniformInitialize sets every realisation within each (event, parent
// setting) slot to 1/ownCount, so each slot already sums to 1.
func (t *Tensor) UniformInitialize() {
	for name, b := range t.blocks {
		p := 1.0 / float64(b.ownCount)
		for i := 0; i < b.size; i++ {
			t.data[b.offset+i] = p
		}
		_ = name
	}
}

// RandomInitialize fills every slot with values drawn from rng and
// normalised so each (event, parent setting) slot sums to 1.
func (t *Tensor) RandomInitialize(rng *rand.Rand) {
	for _, b := range t.blocks {
		nSlots := b.size / b.ownCount
		for s := 0; s < nSlots; s++ {
			base := b.offset + s*b.ownCount
			sum := 0.0
			for i := 0; i < b.ownCount; i++ {
				v := rng.Float64()
				t.data[base+i] = v
				sum += v
			}
			if sum > 0 {
				floats.Scale(1/sum, t.data[base:base+b.ownCount])
			}
		}
	}
}

// Index computes the flat index for event name given its own realisation
// index and the realisation indices of its direct parents (keyed by parent
// event name; an omitted parent is treated as index 0, valid only when that
// parent has a single realisation).
func (t *Tensor) Index(name string, ownIdx int, parentIdx map[string]int) (int, error) {
	b, ok := t.blocks[name]
	if !ok {
		return 0, fmt.Errorf("marginal: unknown event %q", name)
	}
	if ownIdx < 0 || ownIdx >= b.ownCount {
		return 0, fmt.Errorf("marginal: realisation index %d out of range for event %q", ownIdx, name)
	}
	idx := b.offset + ownIdx
	for _, p := range b.parents {
		pi := parentIdx[p.name]
		if pi < 0 || pi >= p.count {
			return 0, fmt.Errorf("marginal: parent realisation index %d out of range for %q (parent of %q)", pi, p.name, name)
		}
		idx += pi * p.stride
	}
	return idx, nil
}

// Get returns the value at the given event/realisation coordinate.
func (t *Tensor) Get(name string, ownIdx int, parentIdx map[string]int) (float64, error) {
	i, err := t.Index(name, ownIdx, parentIdx)
	if err != nil {
		return 0, err
	}
	return t.data[i], nil
}

// SetRealizationProba sets the value at the given coordinate.
func (t *Tensor) SetRealizationProba(name string, ownIdx int, parentIdx map[string]int, v float64) error {
	i, err := t.Index(name, ownIdx, parentIdx)
	if err != nil {
		return err
	}
	t.data[i] = v
	return nil
}

// Add adds the weight to the entry at the given coordinate; used by the
// scenario enumerator to accumulate weighted sufficient statistics.
func (t *Tensor) Add(name string, ownIdx int, parentIdx map[string]int, weight float64) error {
	i, err := t.Index(name, ownIdx, parentIdx)
	if err != nil {
		return err
	}
	t.data[i] += weight
	return nil
}

// Normalize rescales every (event, parent setting) slot so its own-index
// entries sum to 1 (within ±1e-9). Slots that sum to zero are left as a
// uniform distribution rather than producing NaNs.
func (t *Tensor) Normalize() {
	for _, b := range t.blocks {
		nSlots := b.size / b.ownCount
		for s := 0; s < nSlots; s++ {
			base := b.offset + s*b.ownCount
			slot := t.data[base : base+b.ownCount]
			sum := floats.Sum(slot)
			if sum == 0 {
				for i := range slot {
					slot[i] = 1 / float64(b.ownCount)
				}
				continue
			}
			floats.Scale(1/sum, slot)
		}
	}
}

// Flatten replaces every (event, parent setting) slot's distribution over
// event's own realisations with its marginal average over parent settings,
// i.e. makes event independent of its parents while preserving its marginal
// distribution. Mirrors Model_marginals::flatten.
func (t *Tensor) Flatten(name string) error {
	b, ok := t.blocks[name]
	if !ok {
		return fmt.Errorf("marginal: unknown event %q", name)
	}
	nSlots := b.size / b.ownCount
	if nSlots == 0 {
		return nil
	}
	avg := make([]float64, b.ownCount)
	for s := 0; s < nSlots; s++ {
		base := b.offset + s*b.ownCount
		floats.Add(avg, t.data[base:base+b.ownCount])
	}
	floats.Scale(1/float64(nSlots), avg)
	for s := 0; s < nSlots; s++ {
		base := b.offset + s*b.ownCount
		copy(t.data[base:base+b.ownCount], avg)
	}
	return nil
}

// MarginalSum returns name's block summed over every parent combination,
// one entry per own realisation index. Unlike Flatten it does not write
// back into t or average by slot count; it's a read-only query used by
// counter plug-ins that tally posterior mass per realisation irrespective
// of which parent context produced it.
func (t *Tensor) MarginalSum(name string) ([]float64, error) {
	b, ok := t.blocks[name]
	if !ok {
		return nil, fmt.Errorf("marginal: unknown event %q", name)
	}
	sum := make([]float64, b.ownCount)
	nSlots := b.size / b.ownCount
	for s := 0; s < nSlots; s++ {
		base := b.offset + s*b.ownCount
		floats.Add(sum, t.data[base:base+b.ownCount])
	}
	return sum, nil
}

// CopyFixedEventsMarginals overwrites, in t, the blocks of every event in m
// that is marked Fixed with the corresponding block from src, leaving all
// other events' marginals untouched. Used when re-estimating a model that
// fixes some event distributions across EM iterations.
func CopyFixedEventsMarginals(dst, src *Tensor, m *modelgraph.Model) error {
	for _, e := range m.Events() {
		if !e.Fixed {
			continue
		}
		db, ok := dst.blocks[e.Name]
		if !ok {
			return fmt.Errorf("marginal: unknown event %q in destination tensor", e.Name)
		}
		sb, ok := src.blocks[e.Name]
		if !ok {
			return fmt.Errorf("marginal: unknown event %q in source tensor", e.Name)
		}
		if db.size != sb.size {
			return fmt.Errorf("marginal: block size mismatch for %q (%d vs %d)", e.Name, db.size, sb.size)
		}
		copy(dst.data[db.offset:db.offset+db.size], src.data[sb.offset:sb.offset+sb.size])
	}
	return nil
}

// MaxValue returns the largest entry anywhere in name's block, a valid
// (if context-free) upper bound on the probability of any one of its
// realisations under any parent setting. Used by internal/scenario to
// precompute each event's downstream pruning bound.
func (t *Tensor) MaxValue(name string) (float64, error) {
	b, ok := t.blocks[name]
	if !ok {
		return 0, fmt.Errorf("marginal: unknown event %q", name)
	}
	if b.size == 0 {
		return 0, nil
	}
	return floats.Max(t.data[b.offset : b.offset+b.size]), nil
}

// Scale multiplies every entry by c, in place. Used for per-sequence
// normalisation of the single-sequence marginal accumulator by the total
// sequence likelihood.
func (t *Tensor) Scale(c float64) {
	floats.Scale(c, t.data)
}

// AddTensor accumulates src's entries into t, in place. Used to reduce
// per-worker partial accumulators into the pass's combined marginals; since
// addition is commutative and associative the merge is order-independent.
func (t *Tensor) AddTensor(src *Tensor) error {
	if len(t.data) != len(src.data) {
		return fmt.Errorf("marginal: tensor size mismatch (%d vs %d)", len(t.data), len(src.data))
	}
	floats.Add(t.data, src.data)
	return nil
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		data:   append([]float64(nil), t.data...),
		blocks: t.blocks, // block layout is immutable once computed; safe to share
		order:  t.order,
	}
	return out
}
