// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scenario is the scenario enumerator: the recursive kernel that,
// given one read and its alignment bundle, walks every recombination
// scenario consistent with the read and accumulates the weighted expected
// counts of each event-realisation combination into a per-sequence marginal
// tensor.
//
// The recursion's carried state is split across this package's Enumerator
// (the read-only precomputed pruning bounds and per-read bookkeeping) and
// internal/scratch.Scratch (the mutable, undo-capable sequence-type
// scratchpad); see DESIGN.md for where each item landed.
package scenario

import (
	"fmt"
	"math/rand"

	"github.com/kortschak/vdjrec/internal/align"
	"github.com/kortschak/vdjrec/internal/errormodel"
	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
	"github.com/kortschak/vdjrec/internal/nt"
	"github.com/kortschak/vdjrec/internal/scratch"
)

// Kind implements one event type's obligations: GeneChoice, Deletion,
// Insertion and DinucleotideMarkov each supply one.
type Kind interface {
	// Initialize allocates whatever per-event state the kind needs from the
	// model and its starting marginals, before any read is processed.
	Initialize(ev *modelgraph.Event, tensor *marginal.Tensor) error
	// UpdateInternalProbas refreshes any cached conditional derived from the
	// tensor (e.g. extracted transition rows), called once per EM iteration
	// after the tensor has been re-estimated.
	UpdateInternalProbas(ev *modelgraph.Event, tensor *marginal.Tensor) error
	// HasEffectOn reports whether ev can change the content of sequence-type
	// slot t, used by the pruning-bound pre-pass to decide which downstream
	// events a slot's bound must account for.
	HasEffectOn(ev *modelgraph.Event, t scratch.SeqType) bool
	// Iterate enumerates ev's realisations consistent with the current
	// scratchpad, recursing into en.iterateFrom(pos+1, ...) for each one
	// that survives pruning.
	Iterate(en *Enumerator, ev *modelgraph.Event, pos int, p float64) error
	// DrawRandomRealization samples one realisation for the generator.
	DrawRandomRealization(en *Enumerator, ev *modelgraph.Event, rng *rand.Rand) error
}

// Enumerator holds one model's precomputed queue and pruning bounds, plus
// the per-Run mutable bookkeeping for the read currently being processed.
// One Enumerator is built per worker (internal/engine deep-copies the model
// and tensor per worker, then calls NewEnumerator once per worker, not once
// per read).
type Enumerator struct {
	Model *modelgraph.Model
	Queue []*modelgraph.Event
	kinds map[modelgraph.EventType]Kind

	// bound[name] is a context-free upper bound on the probability
	// contribution of event name and everything downstream of it, computed
	// once by Initialize.
	bound map[string]float64

	// per-Run state.
	tensor          *marginal.Tensor
	acc             *marginal.Tensor
	err             *errormodel.Model
	sc              *scratch.Scratch
	read            []nt.Code
	alignments      map[align.Class][]align.Alignment
	thresholdFactor float64

	likelihood      float64
	meanErrWeighted float64
	nScenarios      int
	bestWeight      float64
	bestScenario    []BestRealisation
}

// NewEnumerator builds an Enumerator for m, registering the four built-in
// event kinds.
func NewEnumerator(m *modelgraph.Model) (*Enumerator, error) {
	queue, err := m.Queue()
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	return &Enumerator{
		Model: m,
		Queue: queue,
		kinds: map[modelgraph.EventType]Kind{
			modelgraph.GeneChoice:         geneChoiceKind{},
			modelgraph.Deletion:           deletionKind{},
			modelgraph.Insertion:          insertionKind{},
			modelgraph.DinucleotideMarkov: dinucMarkovKind{},
		},
	}, nil
}

// Initialize runs every event kind's initialize_event and precomputes the
// pruning-bound table against tensor. Call once per worker per EM
// iteration, after the worker's per-iteration tensor snapshot is ready.
func (en *Enumerator) Initialize(tensor *marginal.Tensor) error {
	for _, ev := range en.Queue {
		if err := en.kinds[ev.Type].Initialize(ev, tensor); err != nil {
			return fmt.Errorf("scenario: initializing %q: %w", ev.Name, err)
		}
	}
	return en.computeBounds(tensor)
}

// UpdateInternalProbas calls every event kind's UpdateInternalProbas and
// recomputes pruning bounds against the freshly re-estimated tensor. The
// four built-in kinds keep no cached conditionals (the DinucleotideMarkov
// chain reads the tensor directly), so their per-kind step does nothing.
func (en *Enumerator) UpdateInternalProbas(tensor *marginal.Tensor) error {
	for _, ev := range en.Queue {
		if err := en.kinds[ev.Type].UpdateInternalProbas(ev, tensor); err != nil {
			return fmt.Errorf("scenario: updating %q: %w", ev.Name, err)
		}
	}
	return en.computeBounds(tensor)
}

func (en *Enumerator) computeBounds(tensor *marginal.Tensor) error {
	en.bound = make(map[string]float64, len(en.Queue))
	for i := len(en.Queue) - 1; i >= 0; i-- {
		ev := en.Queue[i]
		maxSelf, err := tensor.MaxValue(ev.Name)
		if err != nil {
			return err
		}
		children, err := en.Model.Children(ev.Name)
		if err != nil {
			return err
		}
		prod := maxSelf
		for _, c := range children {
			prod *= en.bound[c.Name]
		}
		en.bound[ev.Name] = prod
	}
	return nil
}

// boundAfter returns the precomputed downstream bound that applies once the
// queue has advanced past pos (i.e. the bound to weigh against p when
// deciding whether to recurse into pos+1).
func (en *Enumerator) boundAfter(pos int) float64 {
	if pos+1 >= len(en.Queue) {
		return 1
	}
	return en.bound[en.Queue[pos+1].Name]
}

// GenerateOne samples one realisation for every event in the queue, in
// order, writing the result into sc (which the caller should have freshly
// Reset). tensor supplies the conditional probabilities DrawRandomRealization
// samples from; it is not mutated. Used by internal/generator.
func (en *Enumerator) GenerateOne(tensor *marginal.Tensor, sc *scratch.Scratch, rng *rand.Rand) error {
	en.tensor = tensor
	en.sc = sc
	for _, ev := range en.Queue {
		if err := en.kinds[ev.Type].DrawRandomRealization(en, ev, rng); err != nil {
			return fmt.Errorf("scenario: generating %q: %w", ev.Name, err)
		}
	}
	return nil
}

// Result is the per-read outcome of a Run.
type Result struct {
	// Likelihood is the total probability mass summed over every scenario
	// enumerated for the read (before per-sequence normalisation).
	Likelihood float64
	// MeanErrors is the posterior-weighted mean number of mismatches across
	// enumerated scenarios.
	MeanErrors float64
	// NumScenarios is the number of scenarios that reached the terminal
	// step with non-zero weight.
	NumScenarios int
	// BestScenario is the event-by-event realisation record of the
	// highest-weight scenario seen, as reported by the inference log's
	// seq_best_scenario field.
	BestScenario []BestRealisation
}

// BestRealisation is one event's chosen outcome within a reported best
// scenario. Content holds the decoded nucleotide string a DinucleotideMarkov
// event drew, since its draws have no Realisations index; Name/Value are
// populated for every other event type instead.
type BestRealisation struct {
	Event   string
	Name    string
	Value   int
	Content string
}

// Run enumerates every scenario for read against alignments, accumulating
// posterior-weighted expected counts into acc (which the caller should have
// freshly NullInitialize'd) and normalising acc by the read's total
// likelihood at the end. tensor is the current (read-only) model marginals;
// em the (read-only) error model; sc a scratchpad Reset before this call by
// the caller, or freshly constructed. thresholdFactor is 1.0 for
// Viterbi-only enumeration and < 1 otherwise.
func (en *Enumerator) Run(read []nt.Code, alignments map[align.Class][]align.Alignment, tensor, acc *marginal.Tensor, em *errormodel.Model, sc *scratch.Scratch, thresholdFactor float64) (Result, error) {
	en.tensor = tensor
	en.acc = acc
	en.err = em
	en.sc = sc
	en.read = read
	en.alignments = alignments
	en.thresholdFactor = thresholdFactor
	en.likelihood = 0
	en.meanErrWeighted = 0
	en.nScenarios = 0
	en.bestWeight = 0
	en.bestScenario = nil

	if err := en.iterateFrom(0, 1); err != nil {
		return Result{}, err
	}

	res := Result{Likelihood: en.likelihood, NumScenarios: en.nScenarios, BestScenario: en.bestScenario}
	if en.likelihood > 0 {
		res.MeanErrors = en.meanErrWeighted / en.likelihood
		acc.Scale(1 / en.likelihood)
	}
	return res, nil
}

func (en *Enumerator) iterateFrom(pos int, p float64) error {
	if pos >= len(en.Queue) {
		return en.terminal(p)
	}
	ev := en.Queue[pos]
	return en.kinds[ev.Type].Iterate(en, ev, pos, p)
}

// recurseOrPrune is called by each Kind.Iterate after it has pushed a
// scratch frame and computed the candidate scenario probability newP for
// one realisation: it applies the pruning check and, if the subtree
// survives, recurses.
func (en *Enumerator) recurseOrPrune(pos int, newP float64) error {
	if newP <= 0 {
		return nil
	}
	if newP*en.boundAfter(pos) < en.thresholdFactor*en.sc.PBest() {
		return nil
	}
	return en.iterateFrom(pos+1, newP)
}

// terminal scores the accumulated scratchpad against the error model,
// folds the resulting scenario weight into acc, and updates the running
// best-scenario probability.
func (en *Enumerator) terminal(p float64) error {
	if p <= 0 {
		return nil
	}
	errProb, mismatches := en.scoreErrors()
	weight := p * errProb
	if weight <= 0 {
		return nil
	}
	if err := en.addToMarginals(weight); err != nil {
		return err
	}
	en.accumulateErrorStats(weight)
	en.likelihood += weight
	en.meanErrWeighted += weight * float64(mismatches)
	en.nScenarios++
	if weight > en.bestWeight {
		en.bestWeight = weight
		en.bestScenario = en.collectBestScenario()
	}
	en.sc.SetPBest(weight)
	return nil
}

// collectBestScenario reads back the scratchpad's currently chosen
// realisation for every event in the queue, in queue order.
func (en *Enumerator) collectBestScenario() []BestRealisation {
	out := make([]BestRealisation, 0, len(en.Queue))
	for _, ev := range en.Queue {
		if ev.Type == modelgraph.DinucleotideMarkov {
			content := en.sc.Seq(InsertionSeqType(ev.Class))
			out = append(out, BestRealisation{Event: ev.Name, Content: string(nt.Decode(content))})
			continue
		}
		idx, ok := en.sc.Index(ev.Name)
		if !ok {
			continue
		}
		r := BestRealisation{Event: ev.Name}
		for _, re := range ev.Realisations {
			if re.Index == idx {
				r.Name, r.Value = re.Name, re.Value
				break
			}
		}
		out = append(out, r)
	}
	return out
}

// geneSeqTypes pairs each germline gene-segment scratchpad slot with the
// single-letter gene class the error model's LearnOn/ApplyOn subset gating
// is expressed in terms of.
var geneSeqTypes = [...]struct {
	seqType scratch.SeqType
	class   byte
}{
	{scratch.VGene, 'V'},
	{scratch.DGene, 'D'},
	{scratch.JGene, 'J'},
}

// scoreErrors scores every gene-segment position currently placed in the
// scratchpad against the read under the error model, returning the product
// likelihood and the mismatch count. Insertion slots contribute no factor:
// their content is the observed read substring by construction, so there is
// nothing to score as correct or erroneous independently of the chain
// probability already folded into p.
func (en *Enumerator) scoreErrors() (float64, int) {
	prob := 1.0
	mismatches := 0
	for _, gt := range geneSeqTypes {
		if !en.err.AppliesToGene(gt.class) {
			continue
		}
		t := gt.seqType
		off := en.sc.SliceOffset(t)
		seq := en.sc.Seq(t)
		if len(seq) == 0 {
			continue
		}
		for i, g := range seq {
			pos := off.Start + i
			obs := en.read[pos]
			var ctx []nt.Code
			if en.err.Kind != errormodel.SingleRate && en.err.NmerSize > 0 {
				ctx = errormodel.Context(en.read, pos, en.err.NmerSize)
			}
			prob *= en.err.ScoreMismatch(g, obs, ctx)
			if !nt.Compatible(g, obs) {
				mismatches++
			}
		}
	}
	return prob, mismatches
}

// accumulateErrorStats folds weight into the error model's sufficient
// statistics for every germline position placed in the scratchpad, the same
// walk scoreErrors performs to compute errProb. The error model is
// re-estimated from exactly the posterior-weighted per-site observations the
// likelihood scoring itself reads.
func (en *Enumerator) accumulateErrorStats(weight float64) {
	for _, gt := range geneSeqTypes {
		if !en.err.LearnsOnGene(gt.class) {
			continue
		}
		t := gt.seqType
		off := en.sc.SliceOffset(t)
		seq := en.sc.Seq(t)
		if len(seq) == 0 {
			continue
		}
		for i, g := range seq {
			pos := off.Start + i
			obs := en.read[pos]
			var ctx []nt.Code
			if en.err.Kind != errormodel.SingleRate && en.err.NmerSize > 0 {
				ctx = errormodel.Context(en.read, pos, en.err.NmerSize)
			}
			en.err.Accumulate(g, obs, ctx, weight)
		}
	}
}

// parentIndexMap builds the parentIdx map Index/Get/Add need for ev from
// the scratch's per-event chosen-index map.
func (en *Enumerator) parentIndexMap(ev *modelgraph.Event) (map[string]int, error) {
	parents, err := en.Model.Parents(ev.Name)
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return nil, nil
	}
	out := make(map[string]int, len(parents))
	for _, p := range parents {
		idx, ok := en.sc.Index(p.Name)
		if !ok {
			return nil, fmt.Errorf("scenario: %q iterated before its parent %q", ev.Name, p.Name)
		}
		out[p.Name] = idx
	}
	return out, nil
}

// addToMarginals writes weight into acc at the slot each event in the queue
// actually visited for this scenario. DinucleotideMarkov fans out into one
// Add per inserted base, since its own block is conditioned on the previous
// base rather than on any other event.
func (en *Enumerator) addToMarginals(weight float64) error {
	for _, ev := range en.Queue {
		if ev.Type == modelgraph.DinucleotideMarkov {
			if err := en.addDinucMarginals(ev, weight); err != nil {
				return err
			}
			continue
		}
		idx, ok := en.sc.Index(ev.Name)
		if !ok {
			continue
		}
		parentIdx, err := en.parentIndexMap(ev)
		if err != nil {
			return err
		}
		if err := en.acc.Add(ev.Name, idx, parentIdx, weight); err != nil {
			return fmt.Errorf("scenario: accumulating %q: %w", ev.Name, err)
		}
	}
	return nil
}

func (en *Enumerator) addDinucMarginals(ev *modelgraph.Event, weight float64) error {
	t := InsertionSeqType(ev.Class)
	content := en.sc.Seq(t)
	if len(content) == 0 {
		return nil
	}
	base, err := en.parentIndexMap(ev)
	if err != nil {
		return err
	}
	prev := 0 // "no previous base" context
	for _, c := range content {
		if int(c) >= numCanonicalBases {
			// An ambiguous IUPAC call inside an insertion can't be
			// attributed to one transition cell; skip scoring it and reset
			// the chain context, rather than guess.
			prev = 0
			continue
		}
		parentIdx := make(map[string]int, len(base)+1)
		for k, v := range base {
			parentIdx[k] = v
		}
		parentIdx[marginal.PrevBaseParent] = prev
		if err := en.acc.Add(ev.Name, int(c), parentIdx, weight); err != nil {
			return fmt.Errorf("scenario: accumulating %q: %w", ev.Name, err)
		}
		prev = int(c) + 1
	}
	return nil
}

const numCanonicalBases = 4

// InsertionSeqType maps an Insertion/DinucleotideMarkov event's junction
// class to the scratchpad slot it reads and writes.
func InsertionSeqType(c modelgraph.GeneClass) scratch.SeqType {
	switch c {
	case modelgraph.VJ:
		return scratch.VJIns
	case modelgraph.VD:
		return scratch.VDIns
	case modelgraph.DJ:
		return scratch.DJIns
	default:
		return scratch.VDIns
	}
}

// GeneSeqType maps a GeneChoice/Deletion event's gene class to the
// scratchpad slot it reads and writes.
func GeneSeqType(c modelgraph.GeneClass) scratch.SeqType {
	switch c {
	case modelgraph.V:
		return scratch.VGene
	case modelgraph.D:
		return scratch.DGene
	default:
		return scratch.JGene
	}
}

// alignClassFor maps a modelgraph.GeneClass to the align.Class the aligner
// bundle is keyed by.
func alignClassFor(c modelgraph.GeneClass) align.Class {
	switch c {
	case modelgraph.V:
		return align.V
	case modelgraph.D:
		return align.D
	case modelgraph.J:
		return align.J
	default:
		return align.Undefined
	}
}

// fitToRead clips content (placed at read-coordinate offsetStart) to the
// read's bounds and reports the resulting scratch.Offset and the positions
// within it that mismatch the read, used by GeneChoice to place a germline
// segment and by Deletion to re-place a trimmed/palindrome-extended one.
func fitToRead(content []nt.Code, offsetStart int, read []nt.Code) ([]nt.Code, scratch.Offset, []int) {
	start, end := offsetStart, offsetStart+len(content)
	clipStart, clipEnd := start, end
	if clipStart < 0 {
		clipStart = 0
	}
	if clipEnd > len(read) {
		clipEnd = len(read)
	}
	if clipStart >= clipEnd {
		return nil, scratch.Offset{}, nil
	}
	clipped := content[clipStart-start : clipEnd-start]
	var mismatches []int
	for i, c := range clipped {
		pos := clipStart + i
		if !nt.Compatible(c, read[pos]) {
			mismatches = append(mismatches, pos)
		}
	}
	return clipped, scratch.Offset{Start: clipStart, End: clipEnd}, mismatches
}
