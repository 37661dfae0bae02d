package scratch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/vdjrec/internal/nt"
)

func encode(t *testing.T, s string) []nt.Code {
	t.Helper()
	c, err := nt.Encode([]byte(s))
	require.NoError(t, err)
	return c
}

func TestBeginEndRestoresState(t *testing.T) {
	s := New()
	s.SetIndex("V_choice", 1)
	s.SetSafety("V_choice", true)

	seq := encode(t, "ACGT")
	s.Begin("V_choice", VGene)
	s.SetSeq(VGene, seq, Offset{0, 4}, 0.75)
	s.AppendMismatch(VGene, 2)
	s.SetIndex("V_choice", 5)
	s.SetSafety("V_choice", false)

	assert.Equal(t, seq, s.Seq(VGene))
	idx, ok := s.Index("V_choice")
	assert.True(t, ok)
	assert.Equal(t, 5, idx)

	s.End()

	assert.Empty(t, s.Seq(VGene))
	assert.Equal(t, Offset{}, s.SliceOffset(VGene))
	assert.Empty(t, s.Mismatches(VGene))
	assert.InDelta(t, 0, s.DownstreamBound(VGene), 1e-12)

	idx, ok = s.Index("V_choice")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	safe, ok := s.Safety("V_choice")
	assert.True(t, ok)
	assert.True(t, safe)
}

func TestBeginEndNestedFramesRestoreInOrder(t *testing.T) {
	s := New()
	seqA := encode(t, "AAAA")
	seqB := encode(t, "CCCCCC")

	s.Begin("V_del", VGene)
	s.SetSeq(VGene, seqA, Offset{0, 4}, 0.5)

	s.Begin("D_choice", DGene)
	s.SetSeq(DGene, seqB, Offset{4, 10}, 0.2)

	assert.Equal(t, seqA, s.Seq(VGene))
	assert.Equal(t, seqB, s.Seq(DGene))

	s.End() // unwinds D_choice
	assert.Equal(t, seqA, s.Seq(VGene))
	assert.Empty(t, s.Seq(DGene))

	s.End() // unwinds V_del
	assert.Empty(t, s.Seq(VGene))
}

func TestResetClearsWithoutRealloc(t *testing.T) {
	s := New()
	seq := encode(t, "ACGTACGT")
	s.Begin("V_choice", VGene)
	s.SetSeq(VGene, seq, Offset{0, 8}, 1)
	s.AppendMismatch(VGene, 3)
	s.SetIndex("V_choice", 2)
	s.SetPBest(0.4)

	backing := s.seq[VGene]
	_ = backing

	s.Reset()

	assert.Empty(t, s.Seq(VGene))
	assert.Empty(t, s.Mismatches(VGene))
	assert.Equal(t, 0.0, s.PBest())
	_, ok := s.Index("V_choice")
	assert.False(t, ok)
}

func TestSetPBestIsMonotone(t *testing.T) {
	s := New()
	s.SetPBest(0.3)
	s.SetPBest(0.1)
	assert.Equal(t, 0.3, s.PBest())
	s.SetPBest(0.9)
	assert.Equal(t, 0.9, s.PBest())
}

func TestCursorAdvancesMonotonically(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Cursor())
	s.AdvanceCursor(10)
	assert.Equal(t, 10, s.Cursor())
	s.AdvanceCursor(4)
	assert.Equal(t, 10, s.Cursor())
	s.Reset()
	assert.Equal(t, 0, s.Cursor())
}

func TestIncorporateDeletionTrimsEnds(t *testing.T) {
	seq := encode(t, "ACGTACGT")
	got := IncorporateDeletion(seq, 3, RightEnd)
	assert.Equal(t, encode(t, "ACGTA"), got)

	got = IncorporateDeletion(seq, 2, LeftEnd)
	assert.Equal(t, encode(t, "GTACGT"), got)
}

func TestIncorporateDeletionClampsOverTrim(t *testing.T) {
	seq := encode(t, "ACG")
	got := IncorporateDeletion(seq, 10, RightEnd)
	assert.Empty(t, got)
	got = IncorporateDeletion(seq, 10, LeftEnd)
	assert.Empty(t, got)
}

func TestIncorporateDeletionPalindromicOverhang(t *testing.T) {
	// Right end: the tail "AT" is its own reverse complement, so this case
	// checks the overhang length and placement; the left-end case below
	// ("GG" -> "CC") is the one that tells a reverse complement from a copy.
	seq := encode(t, "ACGTAT") // last 2 bases "AT" -> revcomp "AT"
	got := IncorporateDeletion(seq, -2, RightEnd)
	want := append(append([]nt.Code(nil), seq...), encode(t, "AT")...)
	assert.Equal(t, want, got)

	seq2 := encode(t, "GGACGT") // first 2 bases "GG" -> revcomp "CC"
	got2 := IncorporateDeletion(seq2, -2, LeftEnd)
	want2 := append(append([]nt.Code(nil), encode(t, "CC")...), seq2...)
	assert.Equal(t, want2, got2)
}

func TestIncorporateDeletionClampsOverPalindrome(t *testing.T) {
	seq := encode(t, "AC")
	got := IncorporateDeletion(seq, -10, RightEnd)
	want := append(append([]nt.Code(nil), seq...), nt.ReverseComplement(seq)...)
	assert.Equal(t, want, got)
}
