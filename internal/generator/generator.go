// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package generator synthesises reads by sampling one realisation per event
// from the same conditional tensor inference reads from, then applying the
// error model's substitution process.
package generator

import (
	"fmt"
	"math/rand"

	"github.com/kortschak/vdjrec/internal/errormodel"
	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
	"github.com/kortschak/vdjrec/internal/nt"
	"github.com/kortschak/vdjrec/internal/scenario"
	"github.com/kortschak/vdjrec/internal/scratch"
)

// Realisation is one event's sampled outcome in a generated scenario.
// Name and Value are populated from the event's Realisations for GeneChoice,
// Deletion and Insertion events; Content holds the decoded nucleotide string
// sampled for a DinucleotideMarkov event instead, since its draws are not
// indexed realisations.
type Realisation struct {
	Event string
	Name  string
	Value int
	Content string
}

// Result is one synthesised scenario.
type Result struct {
	// Read is the synthetic nucleotide sequence after error substitution.
	Read []nt.Code
	// Scenario is the ordered list of per-event realisation tuples, in
	// queue (topological) order.
	Scenario []Realisation
	// Errors holds the read-coordinate positions the error model mutated.
	Errors []int
}

// Generator draws scenarios from one model's current marginals.
type Generator struct {
	enumerator *scenario.Enumerator
	tensor     *marginal.Tensor
	err        *errormodel.Model

	// ReverseStrand maps a V-gene realisation's Name to true if the
	// original template library records it as lying on the minus strand.
	// A matching generated scenario has its final read reverse-complemented,
	// mirroring GenModel.cpp's generate_sequence strand branch.
	ReverseStrand map[string]bool
}

// New builds a Generator for m, sampling from tensor and applying em's
// error process. m must be the same Model tensor was computed against.
func New(m *modelgraph.Model, tensor *marginal.Tensor, em *errormodel.Model) (*Generator, error) {
	en, err := scenario.NewEnumerator(m)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	return &Generator{enumerator: en, tensor: tensor, err: em}, nil
}

// Generate draws one scenario using rng, which a caller seeds deterministically
// for a reproducible stream.
func (g *Generator) Generate(rng *rand.Rand) (Result, error) {
	sc := scratch.New()
	if err := g.enumerator.GenerateOne(g.tensor, sc, rng); err != nil {
		return Result{}, err
	}

	clean := assembleRead(sc)
	mutated := g.err.GenerateErrors(rng, clean)
	var errPos []int
	for i, c := range mutated {
		if c != clean[i] {
			errPos = append(errPos, i)
		}
	}

	events := collectRealisations(g.enumerator.Queue, sc)

	read := mutated
	if vName, ok := vGeneRealisationName(events); ok && g.ReverseStrand[vName] {
		read = nt.ReverseComplement(read)
		// Mirror the error positions into the flipped read's coordinates,
		// keeping them in ascending order.
		for i, j := 0, len(errPos)-1; i < j; i, j = i+1, j-1 {
			errPos[i], errPos[j] = errPos[j], errPos[i]
		}
		for i := range errPos {
			errPos[i] = len(read) - 1 - errPos[i]
		}
	}

	return Result{Read: read, Scenario: events, Errors: errPos}, nil
}

// assembleRead concatenates the six sequence-type slots' content in read
// order (V, insertions, D, J), whatever order the queue drew them in. A VJ
// model leaves the VD/D/DJ slots empty and a VDJ model leaves the VJ slot
// empty.
func assembleRead(sc *scratch.Scratch) []nt.Code {
	order := [...]scratch.SeqType{scratch.VGene, scratch.VJIns, scratch.VDIns, scratch.DGene, scratch.DJIns, scratch.JGene}
	var buf []nt.Code
	for _, t := range order {
		buf = append(buf, sc.Seq(t)...)
	}
	return buf
}

// collectRealisations reads back queue's chosen realisations from sc, in
// queue order.
func collectRealisations(queue []*modelgraph.Event, sc *scratch.Scratch) []Realisation {
	out := make([]Realisation, 0, len(queue))
	for _, ev := range queue {
		if ev.Type == modelgraph.DinucleotideMarkov {
			content := sc.Seq(scenario.InsertionSeqType(ev.Class))
			out = append(out, Realisation{Event: ev.Name, Content: string(nt.Decode(content))})
			continue
		}
		idx, ok := sc.Index(ev.Name)
		if !ok {
			continue
		}
		var r Realisation
		r.Event = ev.Name
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

// vGeneRealisationName returns the name of the V-gene realisation drawn in
// events, if any. It matches on the conventional "V_choice" event name
// rather than on GeneClass, since Realisation does not carry the event's
// class; models using a different V-event name should leave ReverseStrand
// nil to skip the lookup.
func vGeneRealisationName(events []Realisation) (string, bool) {
	for _, r := range events {
		if r.Event == "V_choice" {
			return r.Name, true
		}
	}
	return "", false
}
