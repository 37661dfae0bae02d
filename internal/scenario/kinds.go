// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scenario

import (
	"fmt"
	"math/rand"

	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
	"github.com/kortschak/vdjrec/internal/nt"
	"github.com/kortschak/vdjrec/internal/scratch"
)

// geneChoiceKind enumerates the realisations the read's alignment bundle
// offers for one gene class; each realisation fixes that gene's germline
// sub-sequence in the scratchpad.
type geneChoiceKind struct{}

func (geneChoiceKind) Initialize(ev *modelgraph.Event, tensor *marginal.Tensor) error { return nil }

func (geneChoiceKind) UpdateInternalProbas(ev *modelgraph.Event, tensor *marginal.Tensor) error {
	return nil
}

func (geneChoiceKind) HasEffectOn(ev *modelgraph.Event, t scratch.SeqType) bool {
	return t == GeneSeqType(ev.Class)
}

func (k geneChoiceKind) Iterate(en *Enumerator, ev *modelgraph.Event, pos int, p float64) error {
	t := GeneSeqType(ev.Class)
	alignments := en.alignments[alignClassFor(ev.Class)]
	parentIdx, err := en.parentIndexMap(ev)
	if err != nil {
		return err
	}
	for _, a := range alignments {
		var r *modelgraph.Realisation
		for i := range ev.Realisations {
			if ev.Realisations[i].Name == a.Gene {
				r = &ev.Realisations[i]
				break
			}
		}
		if r == nil {
			continue
		}
		condProb, err := en.tensor.Get(ev.Name, r.Index, parentIdx)
		if err != nil {
			return err
		}
		if condProb <= 0 {
			continue
		}
		clipped, off, mismatches := fitToRead(r.Seq, a.Offset, en.read)
		if len(clipped) == 0 {
			continue
		}
		en.sc.Begin(ev.Name, t)
		en.sc.SetSeq(t, clipped, off, en.boundAfter(pos))
		for _, m := range mismatches {
			en.sc.AppendMismatch(t, m)
		}
		en.sc.SetIndex(ev.Name, r.Index)
		err = en.recurseOrPrune(pos, p*condProb)
		en.sc.End()
		if err != nil {
			return err
		}
	}
	return nil
}

func (k geneChoiceKind) DrawRandomRealization(en *Enumerator, ev *modelgraph.Event, rng *rand.Rand) error {
	parentIdx, err := en.parentIndexMap(ev)
	if err != nil {
		return err
	}
	r, err := sampleRealisation(en.tensor, ev, parentIdx, rng)
	if err != nil {
		return err
	}
	t := GeneSeqType(ev.Class)
	start := en.sc.Cursor()
	off := scratch.Offset{Start: start, End: start + len(r.Seq)}
	en.sc.SetSeq(t, append([]nt.Code(nil), r.Seq...), off, 0)
	en.sc.SetIndex(ev.Name, r.Index)
	en.sc.AdvanceCursor(off.End)
	return nil
}

// deletionKind enumerates a trimmed (or palindromically extended) length at
// one end of a previously placed gene segment.
type deletionKind struct{}

func (deletionKind) Initialize(ev *modelgraph.Event, tensor *marginal.Tensor) error { return nil }

func (deletionKind) UpdateInternalProbas(ev *modelgraph.Event, tensor *marginal.Tensor) error {
	return nil
}

func (deletionKind) HasEffectOn(ev *modelgraph.Event, t scratch.SeqType) bool {
	return t == GeneSeqType(ev.Class)
}

func segmentEnd(side modelgraph.SequenceSide) scratch.SegmentEnd {
	if side == modelgraph.ThreePrime {
		return scratch.RightEnd
	}
	return scratch.LeftEnd
}

func (k deletionKind) Iterate(en *Enumerator, ev *modelgraph.Event, pos int, p float64) error {
	t := GeneSeqType(ev.Class)
	curSeq := en.sc.Seq(t)
	if len(curSeq) == 0 {
		return nil
	}
	curOff := en.sc.SliceOffset(t)
	end := segmentEnd(ev.Side)
	parentIdx, err := en.parentIndexMap(ev)
	if err != nil {
		return err
	}
	for _, r := range ev.Realisations {
		d := r.Value
		condProb, err := en.tensor.Get(ev.Name, r.Index, parentIdx)
		if err != nil {
			return err
		}
		if condProb <= 0 {
			continue
		}
		trimmed := scratch.IncorporateDeletion(curSeq, d, end)
		newStart := curOff.Start
		if end == scratch.LeftEnd {
			newStart += d
		}
		clipped, off, mismatches := fitToRead(trimmed, newStart, en.read)
		en.sc.Begin(ev.Name, t)
		en.sc.SetSeq(t, clipped, off, en.boundAfter(pos))
		for _, m := range mismatches {
			en.sc.AppendMismatch(t, m)
		}
		en.sc.SetIndex(ev.Name, r.Index)
		err = en.recurseOrPrune(pos, p*condProb)
		en.sc.End()
		if err != nil {
			return err
		}
	}
	return nil
}

func (k deletionKind) DrawRandomRealization(en *Enumerator, ev *modelgraph.Event, rng *rand.Rand) error {
	t := GeneSeqType(ev.Class)
	curSeq := en.sc.Seq(t)
	if len(curSeq) == 0 {
		return nil
	}
	curOff := en.sc.SliceOffset(t)
	end := segmentEnd(ev.Side)
	parentIdx, err := en.parentIndexMap(ev)
	if err != nil {
		return err
	}
	r, err := sampleRealisation(en.tensor, ev, parentIdx, rng)
	if err != nil {
		return err
	}
	trimmed := scratch.IncorporateDeletion(curSeq, r.Value, end)
	newStart := curOff.Start
	if end == scratch.LeftEnd {
		newStart += r.Value
	}
	off := scratch.Offset{Start: newStart, End: newStart + len(trimmed)}
	en.sc.SetSeq(t, trimmed, off, 0)
	en.sc.SetIndex(ev.Name, r.Index)
	en.sc.SetCursor(off.End)
	return nil
}

// insertionKind enumerates a non-negative inserted-segment length, reserving
// that much space immediately after the segment to its left. The
// nucleotide content is filled in later by the matching DinucleotideMarkov
// event.
type insertionKind struct{}

func (insertionKind) Initialize(ev *modelgraph.Event, tensor *marginal.Tensor) error { return nil }

func (insertionKind) UpdateInternalProbas(ev *modelgraph.Event, tensor *marginal.Tensor) error {
	return nil
}

func (insertionKind) HasEffectOn(ev *modelgraph.Event, t scratch.SeqType) bool {
	return t == InsertionSeqType(ev.Class)
}

// leftAnchor is the gene segment whose current right edge the named
// junction's insertion begins immediately after.
func leftAnchor(c modelgraph.GeneClass) scratch.SeqType {
	if c == modelgraph.DJ {
		return scratch.DGene
	}
	return scratch.VGene
}

func (k insertionKind) Iterate(en *Enumerator, ev *modelgraph.Event, pos int, p float64) error {
	t := InsertionSeqType(ev.Class)
	start := en.sc.SliceOffset(leftAnchor(ev.Class)).End
	parentIdx, err := en.parentIndexMap(ev)
	if err != nil {
		return err
	}
	for _, r := range ev.Realisations {
		L := r.Value
		if L < 0 {
			continue
		}
		end := start + L
		if end > len(en.read) {
			continue
		}
		condProb, err := en.tensor.Get(ev.Name, r.Index, parentIdx)
		if err != nil {
			return err
		}
		if condProb <= 0 {
			continue
		}
		en.sc.Begin(ev.Name, t)
		en.sc.SetSeq(t, make([]nt.Code, L), scratch.Offset{Start: start, End: end}, en.boundAfter(pos))
		en.sc.SetIndex(ev.Name, r.Index)
		err = en.recurseOrPrune(pos, p*condProb)
		en.sc.End()
		if err != nil {
			return err
		}
	}
	return nil
}

func (k insertionKind) DrawRandomRealization(en *Enumerator, ev *modelgraph.Event, rng *rand.Rand) error {
	t := InsertionSeqType(ev.Class)
	start := en.sc.Cursor()
	parentIdx, err := en.parentIndexMap(ev)
	if err != nil {
		return err
	}
	r, err := sampleRealisation(en.tensor, ev, parentIdx, rng)
	if err != nil {
		return err
	}
	end := start + r.Value
	en.sc.SetSeq(t, make([]nt.Code, r.Value), scratch.Offset{Start: start, End: end}, 0)
	en.sc.SetIndex(ev.Name, r.Index)
	en.sc.AdvanceCursor(end)
	return nil
}

// dinucMarkovKind supplies the previously-sized insertion slot's nucleotide
// content (inference: deterministically the observed read substring, scored
// via the factorised chain likelihood; generation: sampled base by base).
type dinucMarkovKind struct{}

func (dinucMarkovKind) Initialize(ev *modelgraph.Event, tensor *marginal.Tensor) error { return nil }

func (dinucMarkovKind) UpdateInternalProbas(ev *modelgraph.Event, tensor *marginal.Tensor) error {
	return nil
}

func (dinucMarkovKind) HasEffectOn(ev *modelgraph.Event, t scratch.SeqType) bool {
	return t == InsertionSeqType(ev.Class)
}

func (k dinucMarkovKind) Iterate(en *Enumerator, ev *modelgraph.Event, pos int, p float64) error {
	t := InsertionSeqType(ev.Class)
	off := en.sc.SliceOffset(t)
	L := off.End - off.Start
	if L == 0 {
		return en.recurseOrPrune(pos, p)
	}
	content := append([]nt.Code(nil), en.read[off.Start:off.End]...)
	chainProb, err := en.chainProbability(ev, content)
	if err != nil {
		return err
	}
	if chainProb <= 0 {
		return nil
	}
	en.sc.Begin(ev.Name, t)
	en.sc.SetSeq(t, content, off, en.boundAfter(pos))
	err = en.recurseOrPrune(pos, p*chainProb)
	en.sc.End()
	return err
}

func (k dinucMarkovKind) DrawRandomRealization(en *Enumerator, ev *modelgraph.Event, rng *rand.Rand) error {
	t := InsertionSeqType(ev.Class)
	off := en.sc.SliceOffset(t)
	L := off.End - off.Start
	content := make([]nt.Code, L)
	parentIdx, err := en.parentIndexMap(ev)
	if err != nil {
		return err
	}
	prev := 0
	for i := range content {
		pidx := withPrev(parentIdx, prev)
		b, err := sampleBase(en.tensor, ev, pidx, rng)
		if err != nil {
			return err
		}
		content[i] = nt.Code(b)
		prev = b + 1
	}
	en.sc.SetSeq(t, content, off, 0)
	return nil
}

// chainProbability returns the total probability of observing content under
// ev's Markov chain, marginalising over the hidden identity of any
// ambiguous (IUPAC) base via the standard forward-algorithm recurrence,
// summing over compatible bases for ambiguous ones.
func (en *Enumerator) chainProbability(ev *modelgraph.Event, content []nt.Code) (float64, error) {
	base, err := en.parentIndexMap(ev)
	if err != nil {
		return 0, err
	}
	var f [numCanonicalBases]float64
	for _, b := range compatibleBases(content[0]) {
		p, err := en.tensor.Get(ev.Name, b, withPrev(base, 0))
		if err != nil {
			return 0, err
		}
		f[b] = p
	}
	for i := 1; i < len(content); i++ {
		var next [numCanonicalBases]float64
		compat := compatibleBases(content[i])
		for prevB := 0; prevB < numCanonicalBases; prevB++ {
			if f[prevB] == 0 {
				continue
			}
			pidx := withPrev(base, prevB+1)
			for _, b := range compat {
				p, err := en.tensor.Get(ev.Name, b, pidx)
				if err != nil {
					return 0, err
				}
				next[b] += f[prevB] * p
			}
		}
		f = next
	}
	var total float64
	for _, v := range f {
		total += v
	}
	return total, nil
}

func compatibleBases(c nt.Code) []int {
	var out []int
	for b := nt.Code(0); b < numCanonicalBases; b++ {
		if nt.Compatible(b, c) {
			out = append(out, int(b))
		}
	}
	return out
}

func withPrev(base map[string]int, prev int) map[string]int {
	out := make(map[string]int, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[marginal.PrevBaseParent] = prev
	return out
}

// sampleRealisation draws one of ev's realisations proportionally to its
// conditional probability under parentIdx.
func sampleRealisation(tensor *marginal.Tensor, ev *modelgraph.Event, parentIdx map[string]int, rng *rand.Rand) (modelgraph.Realisation, error) {
	if len(ev.Realisations) == 0 {
		return modelgraph.Realisation{}, fmt.Errorf("scenario: %q has no realisations to draw from", ev.Name)
	}
	weights := make([]float64, len(ev.Realisations))
	var total float64
	for i, r := range ev.Realisations {
		p, err := tensor.Get(ev.Name, r.Index, parentIdx)
		if err != nil {
			return modelgraph.Realisation{}, err
		}
		weights[i] = p
		total += p
	}
	if total <= 0 {
		return modelgraph.Realisation{}, fmt.Errorf("scenario: %q has no realisation with positive probability", ev.Name)
	}
	target := rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if target < cum {
			return ev.Realisations[i], nil
		}
	}
	return ev.Realisations[len(ev.Realisations)-1], nil
}

// sampleBase draws one of the four canonical bases proportionally to ev's
// transition row under parentIdx (which must already carry the
// marginal.PrevBaseParent context).
func sampleBase(tensor *marginal.Tensor, ev *modelgraph.Event, parentIdx map[string]int, rng *rand.Rand) (int, error) {
	var weights [numCanonicalBases]float64
	var total float64
	for b := 0; b < numCanonicalBases; b++ {
		p, err := tensor.Get(ev.Name, b, parentIdx)
		if err != nil {
			return 0, err
		}
		weights[b] = p
		total += p
	}
	if total <= 0 {
		return 0, fmt.Errorf("scenario: %q has no base with positive probability for context %v", ev.Name, parentIdx)
	}
	target := rng.Float64() * total
	var cum float64
	for b, w := range weights {
		cum += w
		if target < cum {
			return b, nil
		}
	}
	return numCanonicalBases - 1, nil
}
