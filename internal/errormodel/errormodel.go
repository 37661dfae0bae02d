// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errormodel scores observed mismatches against a per-site
// mutation/substitution probability model and accumulates the weighted
// sufficient statistics the EM reduction needs to re-estimate it.
package errormodel

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/kortschak/vdjrec/internal/nt"
)

// Kind is the closed set of error-model variants, matching the text
// discriminants _examples/original_source/igor_src/Model_Parms.cpp's
// read_model_parms recognises.
type Kind int

const (
	SingleRate Kind = iota
	HypermutationGlobal
	HypermutationFull
)

func (k Kind) token() string {
	switch k {
	case SingleRate:
		return "#SingleErrorRate"
	case HypermutationGlobal:
		return "#Hypermutationglobalerrorrate"
	case HypermutationFull:
		return "#HypermutationfullNmererrorrate"
	default:
		return "#Unknown"
	}
}

// Model is the per-site substitution probability model. SingleRate uses
// only Rate. HypermutationGlobal and HypermutationFull both key rates by the
// (NmerSize)-mer read context around the site: each observed context gets
// its own learned rate in ContextRates, and an unseen context falls back to
// Rate. The two kinds are scored and learned identically and differ only in
// their text token; HypermutationGlobal does not factor a context's rate
// into a shared rate and per-position contributions.
type Model struct {
	Kind     Kind
	Rate     float64
	NmerSize int
	LearnOn  string // gene class token the rate is learned on ("VD_genes", …)
	ApplyOn  string // gene class token the rate is applied to

	// ContextRates holds, for Hypermutation* kinds, the rate associated with
	// each Nmer context (decoded nucleotide string of length NmerSize).
	ContextRates map[string]float64

	// accumulated sufficient statistics, reset by Reset and populated by
	// Accumulate; Update folds them into Rate/ContextRates.
	weightedMismatches map[string]float64
	weightedTotal      map[string]float64
}

// NewSingleRate returns a Model with a single genome-wide substitution rate.
func NewSingleRate(rate float64) *Model {
	m := &Model{Kind: SingleRate, Rate: rate}
	m.Reset()
	return m
}

// Reset clears accumulated sufficient statistics for a fresh EM pass.
func (m *Model) Reset() {
	m.weightedMismatches = make(map[string]float64)
	m.weightedTotal = make(map[string]float64)
}

func (m *Model) contextKey(context []nt.Code) string {
	if m.Kind == SingleRate || len(context) == 0 {
		return ""
	}
	return string(nt.Decode(context))
}

// rateFor returns the currently effective rate for a mismatch occurring
// within the given context (nil/empty for SingleRate).
func (m *Model) rateFor(context []nt.Code) float64 {
	if m.Kind == SingleRate {
		return m.Rate
	}
	key := m.contextKey(context)
	if r, ok := m.ContextRates[key]; ok {
		return r
	}
	return m.Rate // fall back to the global rate for unseen contexts
}

// geneClassSet maps a LearnOn/ApplyOn gene-class token to the single-letter
// gene classes it names. An empty or unrecognised token (including
// SingleRate's, which never sets either field) imposes no restriction.
func geneClassSet(token string) map[byte]bool {
	switch token {
	case "V_gene":
		return map[byte]bool{'V': true}
	case "D_gene":
		return map[byte]bool{'D': true}
	case "J_gene":
		return map[byte]bool{'J': true}
	case "VD_genes":
		return map[byte]bool{'V': true, 'D': true}
	case "DJ_genes":
		return map[byte]bool{'D': true, 'J': true}
	case "VJ_genes":
		return map[byte]bool{'V': true, 'J': true}
	default:
		return nil
	}
}

// AppliesToGene reports whether a mismatch at a germline position of the
// given single-letter gene class ('V', 'D' or 'J') should be scored against
// this model. SingleRate and an unset/unrecognised ApplyOn apply to every
// class.
func (m *Model) AppliesToGene(class byte) bool {
	set := geneClassSet(m.ApplyOn)
	return set == nil || set[class]
}

// LearnsOnGene reports whether a mismatch at a germline position of the
// given single-letter gene class should contribute to this model's
// sufficient statistics. SingleRate and an unset/unrecognised LearnOn learn
// from every class.
func (m *Model) LearnsOnGene(class byte) bool {
	set := geneClassSet(m.LearnOn)
	return set == nil || set[class]
}

// ScoreMismatch returns the probability of observing base at a site whose
// germline base is germline, given the error model and context (the Nmer
// window around the site; pass nil for SingleRate). A Compatible pair
// scores 1-rate; an incompatible pair scores rate/3, spreading the mismatch mass uniformly
// over the three non-germline canonical bases as the flat per-site model
// implies.
func (m *Model) ScoreMismatch(germline, observed nt.Code, context []nt.Code) float64 {
	rate := m.rateFor(context)
	if nt.Compatible(germline, observed) {
		return 1 - rate
	}
	return rate / 3
}

// Accumulate adds weight to the sufficient statistics for one observed
// (germline, observed, context) site: to the mismatch count if the two
// bases are not Compatible, and always to the total count for that context.
func (m *Model) Accumulate(germline, observed nt.Code, context []nt.Code, weight float64) {
	if m.weightedTotal == nil {
		m.Reset()
	}
	key := m.contextKey(context)
	m.weightedTotal[key] += weight
	if !nt.Compatible(germline, observed) {
		m.weightedMismatches[key] += weight
	}
}

// AddStats merges src's accumulated sufficient statistics into m's, in
// place. Used to reduce per-worker error models into the shared master at
// the end of an EM iteration; m and src must be the same Kind.
func (m *Model) AddStats(src *Model) error {
	if m.Kind != src.Kind {
		return fmt.Errorf("errormodel: kind mismatch merging stats (%v vs %v)", m.Kind, src.Kind)
	}
	if m.weightedTotal == nil {
		m.Reset()
	}
	for k, v := range src.weightedTotal {
		m.weightedTotal[k] += v
	}
	for k, v := range src.weightedMismatches {
		m.weightedMismatches[k] += v
	}
	return nil
}

// Update folds the accumulated sufficient statistics into Rate (and
// ContextRates for Hypermutation* kinds) via a Laplace-smoothed MLE
// (pseudo-count of 1 success and 1 failure), then clears the statistics.
func (m *Model) Update() {
	if m.weightedTotal == nil {
		return
	}
	if m.Kind == SingleRate {
		m.Rate = laplaceRate(m.weightedMismatches[""], m.weightedTotal[""])
		m.Reset()
		return
	}
	if m.ContextRates == nil {
		m.ContextRates = make(map[string]float64)
	}
	var globalMis, globalTot float64
	for ctx, tot := range m.weightedTotal {
		mis := m.weightedMismatches[ctx]
		m.ContextRates[ctx] = laplaceRate(mis, tot)
		globalMis += mis
		globalTot += tot
	}
	m.Rate = laplaceRate(globalMis, globalTot)
	m.Reset()
}

// laplaceRate computes (mismatches+1)/(total+2), the Beta(1,1)-prior
// posterior mean estimator of a Bernoulli rate: a weighted mean of the
// two-point sample {1, 0} where the weights are the Laplace-smoothed
// success and failure counts.
func laplaceRate(mismatches, total float64) float64 {
	if total < 0 {
		total = 0
	}
	successes := mismatches + 1
	failures := total - mismatches + 1
	return stat.Mean([]float64{1, 0}, []float64{successes, failures})
}

// Copy returns a deep copy of m, used by each worker's per-iteration
// immutable snapshot.
func (m *Model) Copy() *Model {
	out := &Model{
		Kind: m.Kind, Rate: m.Rate, NmerSize: m.NmerSize,
		LearnOn: m.LearnOn, ApplyOn: m.ApplyOn,
	}
	if m.ContextRates != nil {
		out.ContextRates = make(map[string]float64, len(m.ContextRates))
		for k, v := range m.ContextRates {
			out.ContextRates[k] = v
		}
	}
	out.Reset()
	return out
}

// GenerateErrors mutates a copy of seq in place for the generator: each base
// is independently replaced, with probability rateFor(context), by a
// uniformly chosen different canonical base.
func (m *Model) GenerateErrors(rng *rand.Rand, seq []nt.Code) []nt.Code {
	out := append([]nt.Code(nil), seq...)
	for i, c := range out {
		var ctx []nt.Code
		if m.Kind != SingleRate && m.NmerSize > 0 {
			ctx = nmerContext(seq, i, m.NmerSize)
		}
		if rng.Float64() >= m.rateFor(ctx) {
			continue
		}
		choices := make([]nt.Code, 0, 3)
		for b := nt.A; b <= nt.T; b++ {
			if b != c {
				choices = append(choices, b)
			}
		}
		out[i] = choices[rng.Intn(len(choices))]
	}
	return out
}

// Context returns the Nmer window of seq centred on position center, sized
// to size (clamped to seq's bounds). Callers building up per-position
// context for ScoreMismatch/Accumulate against a Hypermutation* model
// outside this package (internal/scenario's terminal scoring step) use
// this rather than reimplementing the windowing rule.
func Context(seq []nt.Code, center, size int) []nt.Code {
	return nmerContext(seq, center, size)
}

func nmerContext(seq []nt.Code, center, size int) []nt.Code {
	half := size / 2
	start := center - half
	if start < 0 {
		start = 0
	}
	end := start + size
	if end > len(seq) {
		end = len(seq)
		start = end - size
		if start < 0 {
			start = 0
		}
	}
	return seq[start:end]
}

// WriteText writes the "@ErrorRate" section text, keyed by Kind's discriminant
// token.
func (m *Model) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "@ErrorRate")
	switch m.Kind {
	case SingleRate:
		fmt.Fprintln(bw, m.Kind.token())
		fmt.Fprintln(bw, strconv.FormatFloat(m.Rate, 'g', -1, 64))
	case HypermutationGlobal, HypermutationFull:
		fmt.Fprintf(bw, "%s;%d;%s;%s\n", m.Kind.token(), m.NmerSize, m.LearnOn, m.ApplyOn)
		fmt.Fprintln(bw, strconv.FormatFloat(m.Rate, 'g', -1, 64))
		for ctx, r := range m.ContextRates {
			fmt.Fprintf(bw, "%s;%s\n", ctx, strconv.FormatFloat(r, 'g', -1, 64))
		}
	}
	return bw.Flush()
}

// ReadText parses an "@ErrorRate" section previously written by WriteText.
// lines must begin with the "@ErrorRate" header line itself (as returned by
// modelgraph.ReadText's trailer).
func ReadText(lines []string) (*Model, error) {
	if len(lines) == 0 || lines[0] != "@ErrorRate" {
		return nil, fmt.Errorf("errormodel: missing @ErrorRate header")
	}
	if len(lines) < 2 {
		return nil, fmt.Errorf("errormodel: truncated @ErrorRate section")
	}
	header := strings.Split(lines[1], ";")
	m := &Model{}
	switch header[0] {
	case SingleRate.token():
		m.Kind = SingleRate
		if len(lines) < 3 {
			return nil, fmt.Errorf("errormodel: missing rate value")
		}
		rate, err := strconv.ParseFloat(lines[2], 64)
		if err != nil {
			return nil, fmt.Errorf("errormodel: bad rate: %w", err)
		}
		m.Rate = rate
	case HypermutationGlobal.token(), HypermutationFull.token():
		if header[0] == HypermutationGlobal.token() {
			m.Kind = HypermutationGlobal
		} else {
			m.Kind = HypermutationFull
		}
		if len(header) < 4 {
			return nil, fmt.Errorf("errormodel: malformed hypermutation header %q", lines[1])
		}
		size, err := strconv.Atoi(header[1])
		if err != nil {
			return nil, fmt.Errorf("errormodel: bad Nmer size: %w", err)
		}
		m.NmerSize = size
		m.LearnOn, m.ApplyOn = header[2], header[3]
		if len(lines) < 3 {
			return nil, fmt.Errorf("errormodel: missing global rate value")
		}
		rate, err := strconv.ParseFloat(lines[2], 64)
		if err != nil {
			return nil, fmt.Errorf("errormodel: bad rate: %w", err)
		}
		m.Rate = rate
		m.ContextRates = make(map[string]float64)
		for _, line := range lines[3:] {
			if line == "" {
				continue
			}
			parts := strings.SplitN(line, ";", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("errormodel: malformed context rate line %q", line)
			}
			r, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return nil, fmt.Errorf("errormodel: bad context rate in %q: %w", line, err)
			}
			m.ContextRates[parts[0]] = r
		}
	default:
		return nil, fmt.Errorf("errormodel: unknown error model discriminant %q", header[0])
	}
	m.Reset()
	return m, nil
}
