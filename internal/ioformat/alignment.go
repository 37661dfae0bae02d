// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ioformat owns the wire formats this tool's results are written
// in: the alignment and indexed-sequences CSVs, the model-parameters and
// model-marginals text files, and the per-iteration inference/likelihood
// logs. Every format here is a thin, line-oriented adapter over the types
// internal/align, internal/modelgraph, internal/marginal, internal/errormodel
// and internal/engine already define; this package adds no new semantics of
// its own.
package ioformat

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/kortschak/vdjrec/internal/align"
)

var alignmentHeader = []string{
	"seq_index", "gene_name", "score", "offset",
	"insertions", "deletions", "mismatches",
	"align_length", "5_p_align_offset", "3_p_align_offset",
}

// WriteAlignmentHeader writes the alignment CSV's header row on its own,
// for callers streaming rows for many reads one at a time via
// WriteAlignmentRows, written once per file rather than once per read.
func WriteAlignmentHeader(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(alignmentHeader); err != nil {
		return fmt.Errorf("ioformat: writing alignment header: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// WriteAlignmentRows writes one CSV row per alignment across every class in
// byClass, for the read identified by seqIndex, without a header row. Row
// order follows align.Class iteration order (V, D, J, Undefined) then slice
// order within each class.
func WriteAlignmentRows(w io.Writer, seqIndex int, byClass map[align.Class][]align.Alignment) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	for _, class := range []align.Class{align.V, align.D, align.J, align.Undefined} {
		for _, a := range byClass[class] {
			if err := cw.Write(alignmentRow(seqIndex, a)); err != nil {
				return fmt.Errorf("ioformat: writing alignment row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAlignments writes the header row followed by one CSV row per
// alignment across every class in byClass, for the read identified by
// seqIndex. Use WriteAlignmentHeader/WriteAlignmentRows directly instead
// when streaming many reads to one file.
func WriteAlignments(w io.Writer, seqIndex int, byClass map[align.Class][]align.Alignment) error {
	if err := WriteAlignmentHeader(w); err != nil {
		return err
	}
	return WriteAlignmentRows(w, seqIndex, byClass)
}

func alignmentRow(seqIndex int, a align.Alignment) []string {
	return []string{
		strconv.Itoa(seqIndex),
		a.Gene,
		strconv.FormatFloat(a.Score, 'g', -1, 64),
		strconv.Itoa(a.Offset),
		intListCSV(a.Insertions),
		intListCSV(a.Deletions),
		intListCSV(a.Mismatches),
		strconv.Itoa(a.Length),
		strconv.Itoa(a.FivePrime),
		strconv.Itoa(a.ThreePrime),
	}
}

func intListCSV(vs []int) string {
	if len(vs) == 0 {
		return ""
	}
	out := make([]byte, 0, len(vs)*2)
	for i, v := range vs {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendInt(out, int64(v), 10)
	}
	return string(out)
}

// ReadAlignments parses a CSV previously written by WriteAlignments back
// into per-class alignment slices. classOf must map each gene_name encountered
// to its align.Class (e.g. from the Template library used to produce the
// original alignments); an unrecognised gene name is an InputFormat error.
func ReadAlignments(r io.Reader, classOf map[string]align.Class) (int, map[align.Class][]align.Alignment, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	records, err := cr.ReadAll()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: alignment CSV: %v", ErrInputFormat, err)
	}
	if len(records) == 0 {
		return 0, nil, fmt.Errorf("%w: alignment CSV: empty input", ErrInputFormat)
	}
	out := make(map[align.Class][]align.Alignment)
	seqIndex := 0
	for i, rec := range records[1:] {
		a, idx, err := parseAlignmentRow(rec)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: alignment CSV row %d: %v", ErrInputFormat, i+2, err)
		}
		seqIndex = idx
		class, ok := classOf[a.Gene]
		if !ok {
			return 0, nil, fmt.Errorf("%w: alignment CSV row %d: unknown gene %q", ErrInputFormat, i+2, a.Gene)
		}
		a.Class = class
		out[class] = append(out[class], a)
	}
	return seqIndex, out, nil
}

func parseAlignmentRow(rec []string) (align.Alignment, int, error) {
	if len(rec) != len(alignmentHeader) {
		return align.Alignment{}, 0, fmt.Errorf("expected %d fields, got %d", len(alignmentHeader), len(rec))
	}
	seqIndex, err := strconv.Atoi(rec[0])
	if err != nil {
		return align.Alignment{}, 0, fmt.Errorf("bad seq_index: %w", err)
	}
	score, err := strconv.ParseFloat(rec[2], 64)
	if err != nil {
		return align.Alignment{}, 0, fmt.Errorf("bad score: %w", err)
	}
	offset, err := strconv.Atoi(rec[3])
	if err != nil {
		return align.Alignment{}, 0, fmt.Errorf("bad offset: %w", err)
	}
	insertions, err := parseIntListCSV(rec[4])
	if err != nil {
		return align.Alignment{}, 0, fmt.Errorf("bad insertions: %w", err)
	}
	deletions, err := parseIntListCSV(rec[5])
	if err != nil {
		return align.Alignment{}, 0, fmt.Errorf("bad deletions: %w", err)
	}
	mismatches, err := parseIntListCSV(rec[6])
	if err != nil {
		return align.Alignment{}, 0, fmt.Errorf("bad mismatches: %w", err)
	}
	length, err := strconv.Atoi(rec[7])
	if err != nil {
		return align.Alignment{}, 0, fmt.Errorf("bad align_length: %w", err)
	}
	fivePrime, err := strconv.Atoi(rec[8])
	if err != nil {
		return align.Alignment{}, 0, fmt.Errorf("bad 5_p_align_offset: %w", err)
	}
	threePrime, err := strconv.Atoi(rec[9])
	if err != nil {
		return align.Alignment{}, 0, fmt.Errorf("bad 3_p_align_offset: %w", err)
	}
	return align.Alignment{
		Gene:       rec[1],
		Score:      score,
		Offset:     offset,
		FivePrime:  fivePrime,
		ThreePrime: threePrime,
		Length:     length,
		Insertions: insertions,
		Deletions:  deletions,
		Mismatches: mismatches,
	}, seqIndex, nil
}

func parseIntListCSV(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			v, err := strconv.Atoi(s[start:i])
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			start = i + 1
		}
	}
	return out, nil
}
