package seqsrc

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/vdjrec/internal/engine"
	"github.com/kortschak/vdjrec/internal/nt"
)

func writeTestBAM(t *testing.T, path string, records []*sam.Record) {
	t.Helper()
	ref, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{ref})
	require.NoError(t, err)

	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := bam.NewWriter(f, header, 1)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func newRecord(t *testing.T, name string, seq string, flags sam.Flags) *sam.Record {
	t.Helper()
	r, err := sam.NewRecord(name, nil, nil, -1, -1, 0, 0, nil, []byte(seq), nil, nil)
	require.NoError(t, err)
	r.Flags = flags
	return r
}

func TestSourceReadsAcceptedRecordsInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reads.bam")
	writeTestBAM(t, path, []*sam.Record{
		newRecord(t, "r0", "ACGTACGT", sam.Unmapped),
		newRecord(t, "r1", "TTTTGGGG", sam.Unmapped|sam.Secondary),
		newRecord(t, "r2", "CCCCAAAA", sam.Unmapped|sam.Supplementary),
		newRecord(t, "r3", "GATTACAG", sam.Unmapped),
	})

	src, err := Open(path, Options{})
	require.NoError(t, err)
	defer src.Close()

	reads, err := ReadAll(src)
	require.NoError(t, err)
	require.Len(t, reads, 2)
	assert.Equal(t, 0, reads[0].Index)
	assert.Equal(t, "ACGTACGT", decodeRead(reads[0]))
	assert.Equal(t, 1, reads[1].Index)
	assert.Equal(t, "GATTACAG", decodeRead(reads[1]))
}

func TestSourceIncludesSecondaryAndSupplementaryWhenRequested(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reads.bam")
	writeTestBAM(t, path, []*sam.Record{
		newRecord(t, "r0", "ACGTACGT", sam.Unmapped|sam.Secondary),
	})

	src, err := Open(path, Options{IncludeSecondary: true})
	require.NoError(t, err)
	defer src.Close()

	reads, err := ReadAll(src)
	require.NoError(t, err)
	require.Len(t, reads, 1)
}

func TestSourceReverseComplementsReverseStrandReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reads.bam")
	writeTestBAM(t, path, []*sam.Record{
		newRecord(t, "r0", "ACGTACGT", sam.Unmapped|sam.Reverse),
	})

	src, err := Open(path, Options{})
	require.NoError(t, err)
	defer src.Close()

	reads, err := ReadAll(src)
	require.NoError(t, err)
	require.Len(t, reads, 1)
	assert.Equal(t, reverseComplementString("ACGTACGT"), decodeRead(reads[0]))
}

func TestNextReturnsEOFAfterLastRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reads.bam")
	writeTestBAM(t, path, nil)

	src, err := Open(path, Options{})
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func decodeRead(r engine.Read) string {
	return string(nt.Decode(r.Seq))
}

func reverseComplementString(s string) string {
	return string(reverseComplementRaw([]byte(s)))
}
