// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// vdjinfer-align aligns a FASTA read set against V/D/J germline template
// libraries and writes the alignment CSV and the indexed-sequences CSV.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kortschak/vdjrec/internal/align"
	"github.com/kortschak/vdjrec/internal/cliutil"
	"github.com/kortschak/vdjrec/internal/ioformat"
	"github.com/kortschak/vdjrec/internal/nt"
)

var (
	readsPath = flag.String("reads", "", "input read FASTA file (required)")
	vPath     = flag.String("v", "", "V gene germline FASTA file (required)")
	dPath     = flag.String("d", "", "D gene germline FASTA file")
	jPath     = flag.String("j", "", "J gene germline FASTA file (required)")
	bandsPath = flag.String("bands", "", "offset band config file (required)")

	match    = flag.Float64("match", 5, "match score")
	mismatch = flag.Float64("mismatch", -4, "mismatch penalty")
	gap      = flag.Float64("gap", 10, "linear gap penalty")
	thresh   = flag.Float64("threshold", 0, "minimum alignment score")

	bestOnly     = flag.Bool("best-only", false, "report only the best-scoring alignment per template")
	bestGeneOnly = flag.Bool("best-gene-only", false, "report only alignments of the best-scoring gene(s) per class")

	outAlign = flag.String("out", "", "output alignment CSV (default stdout)")
	outSeqs  = flag.String("out-seqs", "", "output indexed-sequences CSV (optional)")
)

func main() {
	flag.Parse()
	if *readsPath == "" || *vPath == "" || *jPath == "" || *bandsPath == "" {
		fmt.Fprintln(os.Stderr, "invalid argument: reads, v, j and bands are required")
		flag.Usage()
		os.Exit(1)
	}

	reads, err := cliutil.LoadReads(*readsPath)
	if err != nil {
		log.Fatalf("failed to load reads: %v", err)
	}

	var templates []align.Template
	vs, err := cliutil.LoadTemplates(*vPath, align.V)
	if err != nil {
		log.Fatalf("failed to load V templates: %v", err)
	}
	templates = append(templates, vs...)
	if *dPath != "" {
		ds, err := cliutil.LoadTemplates(*dPath, align.D)
		if err != nil {
			log.Fatalf("failed to load D templates: %v", err)
		}
		templates = append(templates, ds...)
	}
	js, err := cliutil.LoadTemplates(*jPath, align.J)
	if err != nil {
		log.Fatalf("failed to load J templates: %v", err)
	}
	templates = append(templates, js...)

	bands, err := cliutil.LoadBands(*bandsPath)
	if err != nil {
		log.Fatalf("failed to load offset bands: %v", err)
	}

	opt := align.Options{
		Matrix:       nt.NewMatrix(*match, *mismatch).Expand(),
		Gap:          *gap,
		Threshold:    *thresh,
		BestOnly:     *bestOnly,
		BestGeneOnly: *bestGeneOnly,
		Bands:        bands,
	}

	alignOut := os.Stdout
	if *outAlign != "" {
		f, err := os.Create(*outAlign)
		if err != nil {
			log.Fatalf("failed to create %q: %v", *outAlign, err)
		}
		defer f.Close()
		alignOut = f
	}

	if err := ioformat.WriteAlignmentHeader(alignOut); err != nil {
		log.Fatalf("failed to write alignment header: %v", err)
	}
	for _, r := range reads {
		byClass, err := align.AlignAll(r.Seq, templates, opt)
		if err != nil {
			log.Fatalf("sequence %d: alignment failed: %v", r.Index, err)
		}
		if err := ioformat.WriteAlignmentRows(alignOut, r.Index, byClass); err != nil {
			log.Fatalf("sequence %d: failed to write alignments: %v", r.Index, err)
		}
	}

	if *outSeqs != "" {
		f, err := os.Create(*outSeqs)
		if err != nil {
			log.Fatalf("failed to create %q: %v", *outSeqs, err)
		}
		defer f.Close()
		if err := ioformat.WriteSequences(f, reads); err != nil {
			log.Fatalf("failed to write indexed sequences: %v", err)
		}
	}
}
