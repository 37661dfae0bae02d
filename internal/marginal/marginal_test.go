package marginal

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/vdjrec/internal/modelgraph"
)

func testRand() *rand.Rand { return rand.New(rand.NewSource(1)) }

// buildVJModel constructs the toy two-event model spec §8 concrete scenario
// 3 describes: V (3 realisations) -> J (2 realisations).
func buildVJModel(t *testing.T) *modelgraph.Model {
	t.Helper()
	m := modelgraph.NewModel()
	_, err := m.AddEvent(modelgraph.Event{
		Name: "V", Type: modelgraph.GeneChoice, Class: modelgraph.V,
		Realisations: []modelgraph.Realisation{{Name: "v0"}, {Name: "v1"}, {Name: "v2"}},
	})
	require.NoError(t, err)
	_, err = m.AddEvent(modelgraph.Event{
		Name: "J", Type: modelgraph.GeneChoice, Class: modelgraph.J,
		Realisations: []modelgraph.Realisation{{Name: "j0"}, {Name: "j1"}},
	})
	require.NoError(t, err)
	require.NoError(t, m.AddEdge("V", "J"))
	return m
}

// TestScenario3 exercises spec §8 concrete scenario 3.
func TestScenario3(t *testing.T) {
	m := buildVJModel(t)
	tensor, err := ComputeSize(m)
	require.NoError(t, err)
	tensor.UniformInitialize()

	p, err := tensor.Get("J", 0, map[string]int{"V": 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-12)

	require.NoError(t, tensor.SetRealizationProba("J", 0, map[string]int{"V": 0}, 0.8))
	require.NoError(t, tensor.SetRealizationProba("J", 1, map[string]int{"V": 0}, 0.2))
	tensor.Normalize()

	p0, err := tensor.Get("J", 0, map[string]int{"V": 0})
	require.NoError(t, err)
	p1, err := tensor.Get("J", 1, map[string]int{"V": 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p0+p1, 1e-9)
}

func TestNormalizeInvariantAcrossBlocks(t *testing.T) {
	m := buildVJModel(t)
	tensor, err := ComputeSize(m)
	require.NoError(t, err)
	tensor.RandomInitialize(testRand())
	tensor.Normalize()

	for v := 0; v < 3; v++ {
		sum := 0.0
		for j := 0; j < 2; j++ {
			p, err := tensor.Get("J", j, map[string]int{"V": v})
			require.NoError(t, err)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestAddTensorCommutes(t *testing.T) {
	m := buildVJModel(t)
	a, err := ComputeSize(m)
	require.NoError(t, err)
	b, err := ComputeSize(m)
	require.NoError(t, err)

	require.NoError(t, a.SetRealizationProba("V", 0, nil, 1))
	require.NoError(t, b.SetRealizationProba("V", 1, nil, 2))

	sum1 := a.Clone()
	require.NoError(t, sum1.AddTensor(b))
	sum2 := b.Clone()
	require.NoError(t, sum2.AddTensor(a))

	assert.Equal(t, sum1.data, sum2.data)
}

func TestComputeSizeDinucleotideMarkovSyntheticParent(t *testing.T) {
	m := modelgraph.NewModel()
	_, err := m.AddEvent(modelgraph.Event{
		Name: "vd_ins_nt", Type: modelgraph.DinucleotideMarkov, Class: modelgraph.VD,
	})
	require.NoError(t, err)

	tensor, err := ComputeSize(m)
	require.NoError(t, err)
	// ownCount (4) * synthetic prev-base context (5) = 20.
	assert.Equal(t, 20, tensor.Len())

	require.NoError(t, tensor.SetRealizationProba("vd_ins_nt", 2, map[string]int{"$prev_base": 0}, 0.25))
	p, err := tensor.Get("vd_ins_nt", 2, map[string]int{"$prev_base": 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, p, 1e-12)

	require.NoError(t, tensor.SetRealizationProba("vd_ins_nt", 2, map[string]int{"$prev_base": 1}, 0.9))
	p0, err := tensor.Get("vd_ins_nt", 2, map[string]int{"$prev_base": 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, p0, 1e-12)
}

func TestTextRoundTrip(t *testing.T) {
	m := buildVJModel(t)
	tensor, err := ComputeSize(m)
	require.NoError(t, err)
	tensor.RandomInitialize(testRand())

	var buf bytes.Buffer
	require.NoError(t, tensor.WriteText(&buf))

	back, err := ComputeSize(m)
	require.NoError(t, err)
	require.NoError(t, back.ReadText(&buf))

	assert.InDeltaSlice(t, tensor.data, back.data, 1e-12)
}
