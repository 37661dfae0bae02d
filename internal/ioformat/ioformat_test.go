package ioformat

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/vdjrec/internal/align"
	"github.com/kortschak/vdjrec/internal/engine"
	"github.com/kortschak/vdjrec/internal/errormodel"
	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
	"github.com/kortschak/vdjrec/internal/nt"
	"github.com/kortschak/vdjrec/internal/scenario"
)

func encode(t *testing.T, s string) []nt.Code {
	t.Helper()
	c, err := nt.Encode([]byte(s))
	require.NoError(t, err)
	return c
}

func TestWriteReadAlignments(t *testing.T) {
	byClass := map[align.Class][]align.Alignment{
		align.V: {
			{Gene: "V1", Score: 12.5, Offset: -2, FivePrime: 0, ThreePrime: 5, Length: 6, Insertions: []int{3}, Deletions: nil, Mismatches: []int{1, 4}},
		},
		align.J: {
			{Gene: "J1", Score: 8, Offset: 6, FivePrime: 6, ThreePrime: 9, Length: 4, Insertions: nil, Deletions: []int{0}, Mismatches: nil},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAlignments(&buf, 7, byClass))

	classOf := map[string]align.Class{"V1": align.V, "J1": align.J}
	seqIndex, back, err := ReadAlignments(&buf, classOf)
	require.NoError(t, err)
	assert.Equal(t, 7, seqIndex)
	require.Len(t, back[align.V], 1)
	require.Len(t, back[align.J], 1)
	assert.Equal(t, []int{3}, back[align.V][0].Insertions)
	assert.Equal(t, []int{1, 4}, back[align.V][0].Mismatches)
	assert.Nil(t, back[align.V][0].Deletions)
	assert.Equal(t, []int{0}, back[align.J][0].Deletions)
	assert.InDelta(t, 12.5, back[align.V][0].Score, 1e-12)
}

func TestReadAlignmentsRejectsUnknownGene(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAlignments(&buf, 0, map[align.Class][]align.Alignment{
		align.V: {{Gene: "Mystery", Score: 1}},
	}))
	_, _, err := ReadAlignments(&buf, map[string]align.Class{})
	assert.ErrorIs(t, err, ErrInputFormat)
}

func TestWriteReadSequences(t *testing.T) {
	reads := []engine.Read{
		{Index: 0, Seq: encode(t, "ACGT")},
		{Index: 1, Seq: encode(t, "TTTTACGT")},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSequences(&buf, reads))

	back, err := ReadSequences(&buf)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, reads[0].Index, back[0].Index)
	assert.Equal(t, reads[0].Seq, back[0].Seq)
	assert.Equal(t, reads[1].Seq, back[1].Seq)
}

func TestReadSequencesRejectsBadBase(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("seq_index;sequence\n0;ACGZ\n")
	_, err := ReadSequences(&buf)
	assert.ErrorIs(t, err, ErrInputFormat)
}

func buildGeneModel(t *testing.T) *modelgraph.Model {
	t.Helper()
	m := modelgraph.NewModel()
	_, err := m.AddEvent(modelgraph.Event{
		Name: "V_choice", Type: modelgraph.GeneChoice, Class: modelgraph.V,
		Realisations: []modelgraph.Realisation{
			{Name: "V1", Seq: encode(t, "ACGT"), Index: 0},
			{Name: "V2", Seq: encode(t, "TTTT"), Index: 1},
		},
	})
	require.NoError(t, err)
	return m
}

func TestWriteReadModelParms(t *testing.T) {
	m := buildGeneModel(t)
	em := errormodel.NewSingleRate(0.03)
	em.Accumulate(nt.A, nt.C, nil, 5)

	var buf bytes.Buffer
	require.NoError(t, WriteModelParms(&buf, m, em))

	back, backEm, err := ReadModelParms(&buf)
	require.NoError(t, err)
	ev, err := back.Event("V_choice")
	require.NoError(t, err)
	assert.Len(t, ev.Realisations, 2)
	assert.Equal(t, errormodel.SingleRate, backEm.Kind)
	assert.InDelta(t, 0.03, backEm.Rate, 1e-12)
}

func TestWriteReadMarginals(t *testing.T) {
	m := buildGeneModel(t)
	tensor, err := marginal.ComputeSize(m)
	require.NoError(t, err)
	require.NoError(t, tensor.SetRealizationProba("V_choice", 0, nil, 0.4))
	require.NoError(t, tensor.SetRealizationProba("V_choice", 1, nil, 0.6))

	var buf bytes.Buffer
	require.NoError(t, WriteMarginals(&buf, tensor))

	back, err := marginal.ComputeSize(m)
	require.NoError(t, err)
	require.NoError(t, ReadMarginals(&buf, back))

	v, err := back.Get("V_choice", 1, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v, 1e-12)
}

func TestWriteReadInferenceLog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteInferenceLogHeader(&buf))
	l := engine.SequenceLog{
		SeqProcessed: 3, SeqIndex: 42, Sequence: encode(t, "ACGT"),
		NumVAligns: 2, NumJAligns: 1,
		Likelihood: 0.125, MeanErrors: 0.5, NumScenarios: 17,
		BestScenario: []scenario.BestRealisation{
			{Event: "V_choice", Name: "V1"},
			{Event: "VJ_dinuc", Content: "GG"},
		},
		Elapsed: 2500 * time.Microsecond,
	}
	require.NoError(t, WriteInferenceLogLine(&buf, 4, l))

	iters, logs, err := ReadInferenceLog(&buf)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 4, iters[0])
	got := logs[0]
	assert.Equal(t, l.SeqProcessed, got.SeqProcessed)
	assert.Equal(t, l.SeqIndex, got.SeqIndex)
	assert.Equal(t, l.Sequence, got.Sequence)
	assert.Equal(t, l.NumVAligns, got.NumVAligns)
	assert.InDelta(t, l.Likelihood, got.Likelihood, 1e-12)
	assert.InDelta(t, l.MeanErrors, got.MeanErrors, 1e-12)
	assert.Equal(t, l.NumScenarios, got.NumScenarios)
	require.Len(t, got.BestScenario, 2)
	assert.Equal(t, "V_choice", got.BestScenario[0].Event)
	assert.Equal(t, "V1", got.BestScenario[0].Name)
	assert.Equal(t, "GG", got.BestScenario[1].Name)
	assert.Equal(t, l.Elapsed, got.Elapsed)
}

func TestWriteReadLikelihoodLog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLikelihoodLogHeader(&buf))
	require.NoError(t, WriteLikelihoodLogLine(&buf, 1, engine.IterationResult{MeanLogLikelihood: -3.2, NumSequences: 100}))
	require.NoError(t, WriteLikelihoodLogLine(&buf, 2, engine.IterationResult{MeanLogLikelihood: -2.1, NumSequences: 100}))

	iters, results, err := ReadLikelihoodLog(&buf)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []int{1, 2}, iters)
	assert.InDelta(t, -3.2, results[0].MeanLogLikelihood, 1e-12)
	assert.Equal(t, 100, results[1].NumSequences)
}
