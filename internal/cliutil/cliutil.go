// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cliutil holds the small file-loading helpers shared by the
// cmd/vdjinfer-align and cmd/vdjinfer-infer entry points: germline FASTA loading into
// align.Template, offset-band config parsing, and read FASTA loading into
// engine.Read. None of this is core-model logic; it exists so the binaries
// don't each reimplement the same bufio.Scanner/fasta.NewReader boilerplate.
package cliutil

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"

	"github.com/kortschak/vdjrec/internal/align"
	"github.com/kortschak/vdjrec/internal/engine"
	"github.com/kortschak/vdjrec/internal/nt"
)

// LoadTemplates reads every record in the FASTA file at path into an
// align.Template tagged with class.
func LoadTemplates(path string, class align.Class) ([]align.Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cliutil: opening %q: %w", path, err)
	}
	defer f.Close()

	r := fasta.NewReader(f, linear.NewSeq("", nil, alphabet.DNA))
	sc := seqio.NewScanner(r)
	var out []align.Template
	for sc.Next() {
		s := sc.Seq().(*linear.Seq)
		code, err := nt.Encode(lettersToBytes(s.Seq))
		if err != nil {
			return nil, fmt.Errorf("cliutil: %q: %w", path, err)
		}
		out = append(out, align.Template{Name: s.Name(), Seq: code, Class: class})
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("cliutil: reading %q: %w", path, err)
	}
	return out, nil
}

// LoadReads reads every record in the FASTA file at path into an
// engine.Read, with sequential indices starting at 0.
func LoadReads(path string) ([]engine.Read, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cliutil: opening %q: %w", path, err)
	}
	defer f.Close()

	r := fasta.NewReader(f, linear.NewSeq("", nil, alphabet.DNA))
	sc := seqio.NewScanner(r)
	var out []engine.Read
	for sc.Next() {
		s := sc.Seq().(*linear.Seq)
		code, err := nt.Encode(lettersToBytes(s.Seq))
		if err != nil {
			return nil, fmt.Errorf("cliutil: %q: %w", path, err)
		}
		out = append(out, engine.Read{Index: len(out), Seq: code})
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("cliutil: reading %q: %w", path, err)
	}
	return out, nil
}

func lettersToBytes(l alphabet.Letters) []byte {
	b := make([]byte, len(l))
	for i, c := range l {
		b[i] = byte(c)
	}
	return b
}

// LoadBands parses an offset-band config file: one "name;min;max" line per
// template, matching align.Options.Bands. Blank lines and lines starting
// with '#' are ignored.
func LoadBands(path string) (map[string]align.Band, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cliutil: opening %q: %w", path, err)
	}
	defer f.Close()
	return ParseBands(f)
}

// ParseBands parses the offset-band config format from r.
func ParseBands(r io.Reader) (map[string]align.Band, error) {
	sc := bufio.NewScanner(r)
	out := make(map[string]align.Band)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) != 3 {
			return nil, fmt.Errorf("cliutil: bands line %d: expected 3 fields, got %d", lineNo, len(fields))
		}
		min, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("cliutil: bands line %d: bad min: %w", lineNo, err)
		}
		max, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("cliutil: bands line %d: bad max: %w", lineNo, err)
		}
		out[fields[0]] = align.Band{Min: min, Max: max}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cliutil: reading bands: %w", err)
	}
	return out, nil
}
