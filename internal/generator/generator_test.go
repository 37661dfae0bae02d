package generator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func buildModel(t *testing.T) (*modelgraph.Model, *marginal.Tensor) {
	t.Helper()
	m := modelgraph.NewModel()

	_, err := m.AddEvent(modelgraph.Event{
		Name: "V_choice", Type: modelgraph.GeneChoice, Class: modelgraph.V,
		Realisations: []modelgraph.Realisation{{Name: "V1", Seq: encode(t, "ACGTAC")}},
	})
	require.NoError(t, err)

	_, err = m.AddEvent(modelgraph.Event{
		Name: "J_choice", Type: modelgraph.GeneChoice, Class: modelgraph.J,
		Realisations: []modelgraph.Realisation{{Name: "J1", Seq: encode(t, "TTTT")}},
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
	require.NoError(t, tensor.SetRealizationProba("VJ_ins", 0,
		map[string]int{"V_choice": 0, "J_choice": 0}, 1.0))

	// Every transition row is uniform over the 4 canonical bases so any
	// draw is valid and the chain never produces a zero-probability dead
	// end regardless of rng seed.
	for prev := 0; prev <= 4; prev++ {
		for b := 0; b < 4; b++ {
			require.NoError(t, tensor.SetRealizationProba("VJ_dinuc", b,
				map[string]int{"VJ_ins": 0, marginal.PrevBaseParent: prev}, 0.25))
		}
	}

	return m, tensor
}

func TestGenerateProducesContiguousRead(t *testing.T) {
	m, tensor := buildModel(t)
	em := errormodel.NewSingleRate(0)
	g, err := New(m, tensor, em)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	res, err := g.Generate(rng)
	require.NoError(t, err)

	assert.Len(t, res.Read, 12) // 6 (V) + 2 (insertion) + 4 (J)
	assert.Equal(t, encode(t, "ACGTAC"), res.Read[:6])
	assert.Equal(t, encode(t, "TTTT"), res.Read[8:12])
	assert.Empty(t, res.Errors)

	var names []string
	for _, r := range res.Scenario {
		names = append(names, r.Event)
	}
	assert.Contains(t, names, "V_choice")
	assert.Contains(t, names, "J_choice")
	assert.Contains(t, names, "VJ_ins")
	assert.Contains(t, names, "VJ_dinuc")

	for _, r := range res.Scenario {
		if r.Event == "VJ_dinuc" {
			assert.Len(t, r.Content, 2)
		}
		if r.Event == "V_choice" {
			assert.Equal(t, "V1", r.Name)
		}
	}
}

func TestGenerateAppliesErrorsAndReportsPositions(t *testing.T) {
	m, tensor := buildModel(t)
	em := errormodel.NewSingleRate(1) // every base mutated
	g, err := New(m, tensor, em)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	res, err := g.Generate(rng)
	require.NoError(t, err)
	assert.Len(t, res.Errors, 12)
}

func TestGenerateReverseComplementsFlaggedV(t *testing.T) {
	m, tensor := buildModel(t)
	em := errormodel.NewSingleRate(0)
	g, err := New(m, tensor, em)
	require.NoError(t, err)
	g.ReverseStrand = map[string]bool{"V1": true}

	rng := rand.New(rand.NewSource(7))
	res, err := g.Generate(rng)
	require.NoError(t, err)

	want := nt.ReverseComplement(encode(t, "ACGTAC"))
	assert.Equal(t, want, res.Read[len(res.Read)-6:])
}
