// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package seqsrc adapts a BAM file of aligned or unaligned reads into the
// core pipeline's engine.Read stream, as an alternative to the
// indexed-sequences CSV (internal/ioformat) for callers whose reads already
// live in a BAM.
package seqsrc

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"

	"github.com/kortschak/vdjrec/internal/engine"
	"github.com/kortschak/vdjrec/internal/nt"
)

// Options configures which BAM records become reads.
type Options struct {
	// IncludeSecondary and IncludeSupplementary control whether records
	// flagged sam.Secondary/sam.Supplementary are read. Both default to
	// excluded: a VDJ read set should see each physical read once.
	IncludeSecondary     bool
	IncludeSupplementary bool
}

func (o Options) skip(flags sam.Flags) bool {
	if !o.IncludeSecondary && flags&sam.Secondary != 0 {
		return true
	}
	if !o.IncludeSupplementary && flags&sam.Supplementary != 0 {
		return true
	}
	return false
}

// Source reads engine.Reads sequentially from an open BAM stream.
type Source struct {
	f    *os.File
	r    *bam.Reader
	opt  Options
	next int
}

// Open opens the BAM file at path for sequential reading. Reads are consumed
// once per iteration into a []engine.Read slice upstream of any worker
// fan-out, so Source is not itself used concurrently.
func Open(path string, opt Options) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seqsrc: opening %q: %w", path, err)
	}
	r, err := bam.NewReader(f, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seqsrc: reading BAM header from %q: %w", path, err)
	}
	return &Source{f: f, r: r, opt: opt}, nil
}

// Close closes the underlying BAM stream.
func (s *Source) Close() error {
	if err := s.r.Close(); err != nil {
		s.f.Close()
		return fmt.Errorf("seqsrc: closing BAM reader: %w", err)
	}
	return s.f.Close()
}

// Next returns the next accepted read, assigning it the next sequential
// index starting at 0. It returns io.EOF once the stream is exhausted.
func (s *Source) Next() (engine.Read, error) {
	for {
		rec, err := s.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return engine.Read{}, io.EOF
			}
			return engine.Read{}, fmt.Errorf("seqsrc: reading BAM record: %w", err)
		}
		if s.opt.skip(rec.Flags) {
			continue
		}
		raw := rec.Seq.Expand()
		if rec.Flags&sam.Reverse != 0 {
			raw = reverseComplementRaw(raw)
		}
		seq, err := nt.Encode(raw)
		if err != nil {
			return engine.Read{}, fmt.Errorf("seqsrc: record %q: %w", rec.Name, err)
		}
		idx := s.next
		s.next++
		return engine.Read{Index: idx, Seq: seq}, nil
	}
}

// ReadAll drains Source into a []engine.Read, for callers that build the
// full read set up front (the shape internal/engine.RunIteration expects).
func ReadAll(s *Source) ([]engine.Read, error) {
	var out []engine.Read
	for {
		r, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, r)
	}
}

var complement = map[byte]byte{
	'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A',
	'R': 'Y', 'Y': 'R', 'K': 'M', 'M': 'K', 'S': 'S', 'W': 'W',
	'B': 'V', 'V': 'B', 'D': 'H', 'H': 'D', 'N': 'N',
}

// reverseComplementRaw reverse-complements a raw upper-case IUPAC byte
// slice. A BAM record already stores its sequence in reference orientation
// for a reverse-strand alignment (samtools convention); rebuilding the
// originally-sequenced read orientation matters for a VDJ read, whose
// recombination signal is strand-specific.
func reverseComplementRaw(seq []byte) []byte {
	out := make([]byte, len(seq))
	for i, b := range seq {
		out[len(seq)-1-i] = complement[b]
	}
	return out
}
