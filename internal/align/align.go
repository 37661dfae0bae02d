// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package align implements the banded, offset-constrained Smith-Waterman
// variant used to align reads against germline V/D/J gene templates. It
// reports every above-threshold alignment as an explicit list of
// insertion/deletion/mismatch coordinates rather than a CIGAR string, since
// that is what the scenario enumerator consumes directly.
package align

import (
	"errors"
	"fmt"

	"github.com/kortschak/vdjrec/internal/nt"
)

// Class is the biological role of a template or alignment.
type Class int

// Gene classes recognised by the aligner. D and Undefined behave
// identically to J (local mode); they are distinguished so that callers and
// the scenario enumerator can group alignments correctly.
const (
	Undefined Class = iota
	V
	D
	J
)

func (c Class) String() string {
	switch c {
	case V:
		return "V"
	case D:
		return "D"
	case J:
		return "J"
	default:
		return "Undefined"
	}
}

// Template is a named germline gene segment sequence.
type Template struct {
	Name  string
	Seq   []nt.Code
	Class Class
}

// Band restricts accepted alignment offsets to [Min, Max], inclusive.
type Band struct {
	Min, Max int
}

// Options configures one alignment run.
type Options struct {
	// Matrix must already be in its 15x15 expanded form; see nt.Matrix.Expand.
	Matrix nt.Matrix
	// Gap is the non-negative linear gap penalty subtracted per indel step.
	Gap float64
	// Threshold is the minimum score an alignment must reach to be reported.
	Threshold float64

	// BestOnly restricts output, per template, to the single best (or
	// jointly best) scoring alignment.
	BestOnly bool
	// BestGeneOnly restricts output across all templates of one gene class
	// to alignments belonging to the best (or jointly best) scoring
	// template(s). Ties are resolved by keeping every tied alignment of
	// every tied best gene.
	BestGeneOnly bool

	// Bands gives the offset band for each template name. A template
	// referenced during alignment that has no entry here makes AlignOne
	// return ErrMissingBand.
	Bands map[string]Band
	// RevOffsetFrame re-anchors each template's band to the 3' end of the
	// read: effective min/max become base + (read_length - 1).
	RevOffsetFrame bool
	// Flip reverses both sequences before aligning, then reflects offsets
	// and insertion/deletion/mismatch coordinates on output.
	Flip bool
}

// Alignment is one (read, template) alignment record.
type Alignment struct {
	Gene  string
	Class Class
	Score float64

	// Offset is the read index at which template position 0 aligns. It may
	// be negative if the template extends 5' of the read.
	Offset int
	// FivePrime and ThreePrime are the 5' and 3' alignment endpoints within
	// the read (0-indexed, inclusive).
	FivePrime  int
	ThreePrime int
	Length     int

	// Insertions are read-coordinate positions present in the read but not
	// the template. Deletions are template-coordinate positions present in
	// the template but not the read. Mismatches are read-coordinate
	// positions where both sequences have a base but are not Compatible.
	// All three are sorted ascending.
	Insertions []int
	Deletions  []int
	Mismatches []int
}

// ErrMissingBand is returned when a template has no offset band entry.
var ErrMissingBand = errors.New("align: missing offset band for template")

// AlignAll aligns read against every template, grouping the resulting
// alignments by gene class. It applies Options.BestGeneOnly across
// templates of the same class after collecting per-template results.
func AlignAll(read []nt.Code, templates []Template, opt Options) (map[Class][]Alignment, error) {
	byClass := make(map[Class][]Alignment)
	for _, tmpl := range templates {
		as, err := AlignOne(read, tmpl, opt)
		if err != nil {
			return nil, fmt.Errorf("align: template %q: %w", tmpl.Name, err)
		}
		if len(as) == 0 {
			continue
		}
		byClass[tmpl.Class] = append(byClass[tmpl.Class], as...)
	}

	if !opt.BestGeneOnly {
		return byClass, nil
	}

	out := make(map[Class][]Alignment, len(byClass))
	for class, as := range byClass {
		var best float64
		first := true
		for _, a := range as {
			if first || a.Score > best {
				best = a.Score
				first = false
			}
		}
		var kept []Alignment
		for _, a := range as {
			if a.Score == best {
				kept = append(kept, a)
			}
		}
		out[class] = kept
	}
	return out, nil
}

// AlignOne aligns read against one template, applying the offset band,
// threshold and best-only filters from opt.
func AlignOne(read []nt.Code, tmpl Template, opt Options) ([]Alignment, error) {
	band, ok := opt.Bands[tmpl.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingBand, tmpl.Name)
	}

	r, tSeq := read, tmpl.Seq
	if opt.Flip {
		r = nt.Reverse(read)
		tSeq = nt.Reverse(tmpl.Seq)
	}

	var raw []rawAlignment
	if tmpl.Class == V {
		raw = fillGlobalV(r, tSeq, opt.Matrix, opt.Gap, opt.Threshold)
	} else {
		raw = fillLocal(r, tSeq, opt.Matrix, opt.Gap, opt.Threshold)
	}

	minOff, maxOff := band.Min, band.Max
	if opt.RevOffsetFrame {
		minOff += len(read) - 1
		maxOff += len(read) - 1
	}

	var out []Alignment
	for _, ra := range raw {
		a := ra.toAlignment(tmpl.Name, tmpl.Class, len(read), len(tmpl.Seq), opt.Flip)
		if a.Offset < minOff || a.Offset > maxOff {
			continue
		}
		if a.Score < opt.Threshold {
			continue
		}
		out = append(out, a)
	}

	if opt.BestOnly && len(out) > 0 {
		best := out[0].Score
		for _, a := range out {
			if a.Score > best {
				best = a.Score
			}
		}
		var kept []Alignment
		for _, a := range out {
			if a.Score == best {
				kept = append(kept, a)
			}
		}
		out = kept
	}

	return out, nil
}
