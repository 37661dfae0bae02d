package scenario

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/vdjrec/internal/align"
	"github.com/kortschak/vdjrec/internal/errormodel"
	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
	"github.com/kortschak/vdjrec/internal/nt"
	"github.com/kortschak/vdjrec/internal/scratch"
)

func encode(t *testing.T, s string) []nt.Code {
	t.Helper()
	c, err := nt.Encode([]byte(s))
	require.NoError(t, err)
	return c
}

// buildMinimalModel constructs a V -> (VJ insertion/chain) -> J model with
// one allele per gene and a single fixed insertion length, small enough to
// hand-verify every probability in the tests below.
func buildMinimalModel(t *testing.T, jSeqs map[string]string) (*modelgraph.Model, *marginal.Tensor) {
	t.Helper()
	m := modelgraph.NewModel()

	vChoice, err := m.AddEvent(modelgraph.Event{
		Name: "V_choice", Type: modelgraph.GeneChoice, Class: modelgraph.V,
		Realisations: []modelgraph.Realisation{{Name: "V1", Seq: encode(t, "ACGTAC")}},
	})
	require.NoError(t, err)

	var jReal []modelgraph.Realisation
	for name, seq := range jSeqs {
		jReal = append(jReal, modelgraph.Realisation{Name: name, Seq: encode(t, seq)})
	}
	jChoice, err := m.AddEvent(modelgraph.Event{
		Name: "J_choice", Type: modelgraph.GeneChoice, Class: modelgraph.J,
		Realisations: jReal,
	})
	require.NoError(t, err)

	vjIns, err := m.AddEvent(modelgraph.Event{
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
	if len(jReal) == 1 {
		require.NoError(t, tensor.SetRealizationProba("J_choice", 0, nil, 1.0))
	}
	require.NoError(t, tensor.SetRealizationProba("VJ_ins", 0,
		map[string]int{"V_choice": vChoice.Realisations[0].Index, "J_choice": 0}, 1.0))

	gCode := int(nt.G)
	require.NoError(t, tensor.SetRealizationProba("VJ_dinuc", gCode,
		map[string]int{"VJ_ins": 0, marginal.PrevBaseParent: 0}, 0.5))
	require.NoError(t, tensor.SetRealizationProba("VJ_dinuc", gCode,
		map[string]int{"VJ_ins": 0, marginal.PrevBaseParent: gCode + 1}, 0.4))

	_ = jChoice
	_ = vjIns
	return m, tensor
}

func TestRunSingleScenario(t *testing.T) {
	m, tensor := buildMinimalModel(t, map[string]string{"J1": "TTTT"})
	en, err := NewEnumerator(m)
	require.NoError(t, err)
	require.NoError(t, en.Initialize(tensor))

	read := encode(t, "ACGTACGGTTTT")
	alignments := map[align.Class][]align.Alignment{
		align.V: {{Gene: "V1", Offset: 0}},
		align.J: {{Gene: "J1", Offset: 8}},
	}
	acc, err := marginal.ComputeSize(m)
	require.NoError(t, err)
	em := errormodel.NewSingleRate(0)
	sc := scratch.New()

	res, err := en.Run(read, alignments, tensor, acc, em, sc, 1.0)
	require.NoError(t, err)

	assert.Equal(t, 1, res.NumScenarios)
	assert.InDelta(t, 0.2, res.Likelihood, 1e-12)
	assert.InDelta(t, 0, res.MeanErrors, 1e-12)

	v, err := acc.Get("V_choice", 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)

	j, err := acc.Get("J_choice", 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, j, 1e-9)

	ins, err := acc.Get("VJ_ins", 0, map[string]int{"V_choice": 0, "J_choice": 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ins, 1e-9)

	gCode := int(nt.G)
	d1, err := acc.Get("VJ_dinuc", gCode, map[string]int{"VJ_ins": 0, marginal.PrevBaseParent: 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d1, 1e-9)

	d2, err := acc.Get("VJ_dinuc", gCode, map[string]int{"VJ_ins": 0, marginal.PrevBaseParent: gCode + 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d2, 1e-9)
}

func TestRunAccumulatesMultipleScenarios(t *testing.T) {
	m, tensor := buildMinimalModel(t, map[string]string{"J1": "TTTT", "J2": "TTTA"})
	jEvent, err := m.Event("J_choice")
	require.NoError(t, err)
	var j1Idx, j2Idx int
	for _, r := range jEvent.Realisations {
		switch r.Name {
		case "J1":
			j1Idx = r.Index
		case "J2":
			j2Idx = r.Index
		}
	}
	require.NoError(t, tensor.SetRealizationProba("J_choice", j1Idx, nil, 0.7))
	require.NoError(t, tensor.SetRealizationProba("J_choice", j2Idx, nil, 0.3))
	require.NoError(t, tensor.SetRealizationProba("VJ_ins", 0,
		map[string]int{"V_choice": 0, "J_choice": j1Idx}, 1.0))
	require.NoError(t, tensor.SetRealizationProba("VJ_ins", 0,
		map[string]int{"V_choice": 0, "J_choice": j2Idx}, 1.0))

	en, err := NewEnumerator(m)
	require.NoError(t, err)
	require.NoError(t, en.Initialize(tensor))

	read := encode(t, "ACGTACGGTTTT")
	alignments := map[align.Class][]align.Alignment{
		align.V: {{Gene: "V1", Offset: 0}},
		align.J: {{Gene: "J1", Offset: 8}, {Gene: "J2", Offset: 8}},
	}
	acc, err := marginal.ComputeSize(m)
	require.NoError(t, err)
	em := errormodel.NewSingleRate(0.03)
	sc := scratch.New()

	res, err := en.Run(read, alignments, tensor, acc, em, sc, 0)
	require.NoError(t, err)

	// J2 mismatches the read's last base (A vs T), scoring a small but
	// nonzero rate/3 there instead of the 1-rate every matching base gets,
	// so both scenarios survive with thresholdFactor 0 (no pruning).
	assert.Equal(t, 2, res.NumScenarios)
	assert.Greater(t, res.Likelihood, 0.0)
}

func TestChainProbabilityMarginalizesAmbiguousBase(t *testing.T) {
	m, tensor := buildMinimalModel(t, map[string]string{"J1": "TTTT"})
	en, err := NewEnumerator(m)
	require.NoError(t, err)
	require.NoError(t, en.Initialize(tensor))
	en.tensor = tensor

	ev, err := m.Event("VJ_dinuc")
	require.NoError(t, err)
	en.sc = scratch.New()
	en.sc.SetIndex("VJ_ins", 0)

	// nt.R (A or G) at the first position is compatible with both A and G;
	// only G has nonzero mass in this model's chain, so the ambiguous call
	// should resolve to exactly the unambiguous-G probability.
	ambiguous := []nt.Code{nt.R, nt.G}
	unambiguous := []nt.Code{nt.G, nt.G}

	pAmbig, err := en.chainProbability(ev, ambiguous)
	require.NoError(t, err)
	pUnambig, err := en.chainProbability(ev, unambiguous)
	require.NoError(t, err)
	assert.InDelta(t, pUnambig, pAmbig, 1e-12)
	assert.InDelta(t, 0.2, pAmbig, 1e-12)
}

func TestDrawRandomRealizationGeneChoiceSetsSlot(t *testing.T) {
	m, tensor := buildMinimalModel(t, map[string]string{"J1": "TTTT"})
	en, err := NewEnumerator(m)
	require.NoError(t, err)
	require.NoError(t, en.Initialize(tensor))
	en.tensor = tensor
	en.sc = scratch.New()

	ev, err := m.Event("V_choice")
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	require.NoError(t, en.kinds[ev.Type].DrawRandomRealization(en, ev, rng))

	seq := en.sc.Seq(scratch.VGene)
	assert.Equal(t, encode(t, "ACGTAC"), seq)
	idx, ok := en.sc.Index("V_choice")
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 6, en.sc.Cursor())
}

func TestDrawRandomRealizationInsertionAndChain(t *testing.T) {
	m, tensor := buildMinimalModel(t, map[string]string{"J1": "TTTT"})
	en, err := NewEnumerator(m)
	require.NoError(t, err)
	require.NoError(t, en.Initialize(tensor))
	en.tensor = tensor
	en.sc = scratch.New()

	vEv, err := m.Event("V_choice")
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	require.NoError(t, en.kinds[vEv.Type].DrawRandomRealization(en, vEv, rng))

	insEv, err := m.Event("VJ_ins")
	require.NoError(t, err)
	require.NoError(t, en.kinds[insEv.Type].DrawRandomRealization(en, insEv, rng))
	insIdx, ok := en.sc.Index("VJ_ins")
	require.True(t, ok)
	assert.Equal(t, 0, insIdx)
	assert.Equal(t, scratch.Offset{Start: 6, End: 8}, en.sc.SliceOffset(scratch.VJIns))

	dinucEv, err := m.Event("VJ_dinuc")
	require.NoError(t, err)
	require.NoError(t, en.kinds[dinucEv.Type].DrawRandomRealization(en, dinucEv, rng))
	content := en.sc.Seq(scratch.VJIns)
	require.Len(t, content, 2)
	for _, c := range content {
		assert.Less(t, int(c), nt.NumCodes)
	}
}
