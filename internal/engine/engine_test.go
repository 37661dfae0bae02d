package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/vdjrec/internal/align"
	"github.com/kortschak/vdjrec/internal/counter"
	"github.com/kortschak/vdjrec/internal/errormodel"
	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
	"github.com/kortschak/vdjrec/internal/nt"
)

func encode(t *testing.T, s string) []nt.Code {
	t.Helper()
	c, err := nt.Encode([]byte(s))
	require.NoError(t, err)
	return c
}

// buildModel is the same V -> (VJ insertion/chain) -> J shape
// internal/scenario and internal/generator's tests use: one allele per gene,
// one fixed insertion length, small enough to hand-verify.
func buildModel(t *testing.T) (*modelgraph.Model, *marginal.Tensor) {
	t.Helper()
	m := modelgraph.NewModel()

	vSeq := encode(t, "ACGTAC")
	_, err := m.AddEvent(modelgraph.Event{
		Name: "V_choice", Type: modelgraph.GeneChoice, Class: modelgraph.V,
		Realisations: []modelgraph.Realisation{{Name: "V1", Seq: vSeq}},
	})
	require.NoError(t, err)

	jSeq := encode(t, "TTTT")
	_, err = m.AddEvent(modelgraph.Event{
		Name: "J_choice", Type: modelgraph.GeneChoice, Class: modelgraph.J,
		Realisations: []modelgraph.Realisation{{Name: "J1", Seq: jSeq}},
	})
	require.NoError(t, err)

	_, err = m.AddEvent(modelgraph.Event{
		Name: "VJ_ins", Type: modelgraph.Insertion, Class: modelgraph.VJ,
		Realisations: []modelgraph.Realisation{{Name: "ins2", Value: 2}},
	})
	require.NoError(t, err)

	_, err = m.AddEvent(modelgraph.Event{
		Name: "VJ_dinuc", Type: modelgraph.DinucleotideMarkov, Class: modelgraph.VJ,
	})
	require.NoError(t, err)

	require.NoError(t, m.AddEdge("V_choice", "VJ_ins"))
	require.NoError(t, m.AddEdge("J_choice", "VJ_ins"))
	require.NoError(t, m.AddEdge("VJ_ins", "VJ_dinuc"))

	tensor, err := marginal.ComputeSize(m)
	require.NoError(t, err)
	require.NoError(t, tensor.SetRealizationProba("V_choice", 0, nil, 1.0))
	require.NoError(t, tensor.SetRealizationProba("J_choice", 0, nil, 1.0))
	require.NoError(t, tensor.SetRealizationProba("VJ_ins", 0, map[string]int{"V_choice": 0, "J_choice": 0}, 1.0))
	for prev := 0; prev <= 4; prev++ {
		for base := 0; base < 4; base++ {
			require.NoError(t, tensor.SetRealizationProba("VJ_dinuc", int(nt.A)+base,
				map[string]int{"VJ_ins": 0, marginal.PrevBaseParent: prev}, 0.25))
		}
	}
	return m, tensor
}

func alignOptions() align.Options {
	return align.Options{
		Matrix:    nt.NewMatrix(5, -4).Expand(),
		Gap:       10,
		Threshold: 1,
		BestOnly:  true,
		Bands: map[string]align.Band{
			"V1": {Min: -5, Max: 5},
			"J1": {Min: -5, Max: 5},
		},
	}
}

func TestRunIterationReducesAcrossWorkers(t *testing.T) {
	m, tensor := buildModel(t)
	templates := []align.Template{
		{Name: "V1", Class: align.V, Seq: encode(t, "ACGTAC")},
		{Name: "J1", Class: align.J, Seq: encode(t, "TTTT")},
	}
	em := errormodel.NewSingleRate(0.02)

	reads := []Read{
		{Index: 0, Seq: encode(t, "ACGTACGGTTTT")},
		{Index: 1, Seq: encode(t, "ACGTACAATTTT")},
		{Index: 2, Seq: encode(t, "ACGTACCCTTTT")},
		{Index: 3, Seq: encode(t, "ACGTACTTTTTT")},
	}

	var loggedSeqs []int
	var progress []int
	cfg := Config{
		Model:           m,
		Templates:       templates,
		AlignOptions:    alignOptions(),
		ThresholdFactor: 0,
		Counters:        counter.NewRegistry(),
		Workers:         2,
		ProgressEvery:   2,
		OnSequenceLog: func(l SequenceLog) {
			loggedSeqs = append(loggedSeqs, l.SeqIndex)
		},
		OnProgress: func(processed, total int) {
			progress = append(progress, processed)
		},
	}

	res, err := RunIteration(context.Background(), cfg, tensor, em, reads)
	require.NoError(t, err)

	assert.Equal(t, 4, res.NumSequences)
	assert.Len(t, loggedSeqs, 4)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, loggedSeqs)
	assert.Equal(t, []int{2, 4}, progress)

	v, err := res.Tensor.Get("V_choice", 0, nil)
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)

	assert.Less(t, res.MeanLogLikelihood, 0.0)
}

func TestRunIterationSingleWorkerMatchesMultiWorkerTotals(t *testing.T) {
	m, tensor := buildModel(t)
	templates := []align.Template{
		{Name: "V1", Class: align.V, Seq: encode(t, "ACGTAC")},
		{Name: "J1", Class: align.J, Seq: encode(t, "TTTT")},
	}
	reads := []Read{
		{Index: 0, Seq: encode(t, "ACGTACGGTTTT")},
		{Index: 1, Seq: encode(t, "ACGTACAATTTT")},
		{Index: 2, Seq: encode(t, "ACGTACCCTTTT")},
	}

	cfg1 := Config{
		Model: m, Templates: templates, AlignOptions: alignOptions(),
		Counters: counter.NewRegistry(), Workers: 1,
	}
	res1, err := RunIteration(context.Background(), cfg1, tensor, errormodel.NewSingleRate(0.02), reads)
	require.NoError(t, err)

	cfg3 := cfg1
	cfg3.Workers = 3
	res3, err := RunIteration(context.Background(), cfg3, tensor, errormodel.NewSingleRate(0.02), reads)
	require.NoError(t, err)

	// The merged marginals are order-independent (commutative/associative
	// reduction), so worker count must not change the totals.
	v1, err := res1.Tensor.Get("V_choice", 0, nil)
	require.NoError(t, err)
	v3, err := res3.Tensor.Get("V_choice", 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, v1, v3, 1e-9)
	assert.InDelta(t, res1.MeanLogLikelihood, res3.MeanLogLikelihood, 1e-9)
	assert.Equal(t, res1.NumSequences, res3.NumSequences)
}

func TestRunIterationPropagatesSequenceError(t *testing.T) {
	m, tensor := buildModel(t)
	// No templates at all: AlignAll returns ErrMissingBand for any read
	// referencing an unbanded template, but with zero templates it simply
	// returns no alignments, so force a failure via an impossible band
	// instead by omitting the V1 entry.
	opt := alignOptions()
	delete(opt.Bands, "V1")
	templates := []align.Template{
		{Name: "V1", Class: align.V, Seq: encode(t, "ACGTAC")},
		{Name: "J1", Class: align.J, Seq: encode(t, "TTTT")},
	}
	reads := []Read{{Index: 0, Seq: encode(t, "ACGTACGGTTTT")}}

	cfg := Config{
		Model: m, Templates: templates, AlignOptions: opt,
		Counters: counter.NewRegistry(), Workers: 1,
	}
	_, err := RunIteration(context.Background(), cfg, tensor, errormodel.NewSingleRate(0.02), reads)
	assert.ErrorIs(t, err, align.ErrMissingBand)
}
