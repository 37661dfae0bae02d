// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// vdjinfer-infer runs the EM loop for a fixed number of iterations, writing
// the inference log, the likelihood log and the updated model
// parameters/marginals after every iteration.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kortschak/vdjrec/internal/align"
	"github.com/kortschak/vdjrec/internal/cliutil"
	"github.com/kortschak/vdjrec/internal/counter"
	"github.com/kortschak/vdjrec/internal/engine"
	"github.com/kortschak/vdjrec/internal/ioformat"
	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
	"github.com/kortschak/vdjrec/internal/nt"
)

var (
	readsPath  = flag.String("reads", "", "indexed-sequences CSV of reads to train on (required)")
	vPath      = flag.String("v", "", "V gene germline FASTA file (required)")
	dPath      = flag.String("d", "", "D gene germline FASTA file")
	jPath      = flag.String("j", "", "J gene germline FASTA file (required)")
	bandsPath  = flag.String("bands", "", "offset band config file (required)")
	parmsPath  = flag.String("parms", "", "starting model parameters file (required)")
	marginPath = flag.String("marginals", "", "starting model marginals file (required)")

	match    = flag.Float64("match", 5, "match score")
	mismatch = flag.Float64("mismatch", -4, "mismatch penalty")
	gap      = flag.Float64("gap", 10, "linear gap penalty")
	thresh   = flag.Float64("threshold", 0, "minimum alignment score")
	factor   = flag.Float64("scenario-threshold-factor", 1e-3, "scenario likelihood threshold factor relative to a read's best scenario")

	iterations = flag.Int("n", 5, "number of EM iterations")
	workers    = flag.Int("workers", 0, "worker goroutines (0: one worker)")

	outDir = flag.String("out", ".", "output directory for per-iteration logs and updated model files")
)

func main() {
	flag.Parse()
	if *readsPath == "" || *vPath == "" || *jPath == "" || *bandsPath == "" || *parmsPath == "" || *marginPath == "" {
		fmt.Fprintln(os.Stderr, "invalid argument: reads, v, j, bands, parms and marginals are required")
		flag.Usage()
		os.Exit(1)
	}

	reads, err := loadIndexedReads(*readsPath)
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

	parmsFile, err := os.Open(*parmsPath)
	if err != nil {
		log.Fatalf("failed to open %q: %v", *parmsPath, err)
	}
	model, em, err := ioformat.ReadModelParms(parmsFile)
	parmsFile.Close()
	if err != nil {
		log.Fatalf("failed to read model parameters: %v", err)
	}

	tensor, err := marginalsFromFile(model, *marginPath)
	if err != nil {
		log.Fatalf("failed to read model marginals: %v", err)
	}

	alignOpt := align.Options{
		Matrix:    nt.NewMatrix(*match, *mismatch).Expand(),
		Gap:       *gap,
		Threshold: *thresh,
		Bands:     bands,
	}

	ctx := context.Background()
	for iter := 1; iter <= *iterations; iter++ {
		infPath := iterationPath(*outDir, "inference", iter)
		likPath := iterationPath(*outDir, "likelihood", iter)
		infFile, err := os.Create(infPath)
		if err != nil {
			log.Fatalf("failed to create %q: %v", infPath, err)
		}
		if err := ioformat.WriteInferenceLogHeader(infFile); err != nil {
			log.Fatalf("failed to write inference log header: %v", err)
		}

		cfg := engine.Config{
			Model:           model,
			Templates:       templates,
			AlignOptions:    alignOpt,
			ThresholdFactor: *factor,
			Counters:        counter.NewRegistry(),
			LastIter:        iter == *iterations,
			Workers:         *workers,
			OnSequenceLog: func(l engine.SequenceLog) {
				if err := ioformat.WriteInferenceLogLine(infFile, iter, l); err != nil {
					log.Fatalf("failed to write inference log line: %v", err)
				}
			},
			OnProgress: func(processed, total int) {
				log.Printf("iteration %d: %d/%d sequences processed", iter, processed, total)
			},
		}

		result, err := engine.RunIteration(ctx, cfg, tensor, em, reads)
		infFile.Close()
		if err != nil {
			log.Fatalf("iteration %d failed: %v", iter, err)
		}

		likFile, err := os.Create(likPath)
		if err != nil {
			log.Fatalf("failed to create %q: %v", likPath, err)
		}
		if err := ioformat.WriteLikelihoodLogHeader(likFile); err != nil {
			log.Fatalf("failed to write likelihood log header: %v", err)
		}
		if err := ioformat.WriteLikelihoodLogLine(likFile, iter, result); err != nil {
			log.Fatalf("failed to write likelihood log line: %v", err)
		}
		likFile.Close()

		result.Tensor.Normalize()
		result.ErrorModel.Update()
		tensor = result.Tensor
		em = result.ErrorModel

		parmsOut, err := os.Create(iterationPath(*outDir, "model_parms", iter))
		if err != nil {
			log.Fatalf("failed to create model parameters output: %v", err)
		}
		if err := ioformat.WriteModelParms(parmsOut, model, em); err != nil {
			log.Fatalf("failed to write model parameters: %v", err)
		}
		parmsOut.Close()

		marginOut, err := os.Create(iterationPath(*outDir, "model_marginals", iter))
		if err != nil {
			log.Fatalf("failed to create model marginals output: %v", err)
		}
		if err := ioformat.WriteMarginals(marginOut, tensor); err != nil {
			log.Fatalf("failed to write model marginals: %v", err)
		}
		marginOut.Close()

		log.Printf("iteration %d: mean log likelihood %g over %d sequences", iter, result.MeanLogLikelihood, result.NumSequences)
	}
}

func iterationPath(dir, stem string, iter int) string {
	return fmt.Sprintf("%s/%s_%d.csv", dir, stem, iter)
}

func loadIndexedReads(path string) ([]engine.Read, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()
	return ioformat.ReadSequences(f)
}

func marginalsFromFile(model *modelgraph.Model, path string) (*marginal.Tensor, error) {
	t, err := marginal.ComputeSize(model)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()
	if err := ioformat.ReadMarginals(f, t); err != nil {
		return nil, err
	}
	return t, nil
}
