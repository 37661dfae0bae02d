// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ioformat

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/kortschak/vdjrec/internal/engine"
	"github.com/kortschak/vdjrec/internal/nt"
)

var sequencesHeader = []string{"seq_index", "sequence"}

// WriteSequences writes the indexed-sequences CSV: a header row followed by
// one "seq_index;sequence" row per read, in reads order.
func WriteSequences(w io.Writer, reads []engine.Read) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(sequencesHeader); err != nil {
		return fmt.Errorf("ioformat: writing sequences header: %w", err)
	}
	for _, r := range reads {
		if err := cw.Write([]string{strconv.Itoa(r.Index), string(nt.Decode(r.Seq))}); err != nil {
			return fmt.Errorf("ioformat: writing sequence row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSequences parses an indexed-sequences CSV previously written by
// WriteSequences.
func ReadSequences(r io.Reader) ([]engine.Read, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: sequences CSV: %v", ErrInputFormat, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: sequences CSV: empty input", ErrInputFormat)
	}
	out := make([]engine.Read, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != 2 {
			return nil, fmt.Errorf("%w: sequences CSV row %d: expected 2 fields, got %d", ErrInputFormat, i+2, len(rec))
		}
		idx, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%w: sequences CSV row %d: bad seq_index: %v", ErrInputFormat, i+2, err)
		}
		seq, err := nt.Encode([]byte(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: sequences CSV row %d: %v", ErrInputFormat, i+2, err)
		}
		out = append(out, engine.Read{Index: idx, Seq: seq})
	}
	return out, nil
}
