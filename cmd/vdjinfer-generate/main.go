// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// vdjinfer-generate synthesises reads from a model's current marginals and
// error model, writing the reads as an indexed-sequences CSV alongside a
// CSV of each read's sampled scenario.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/kortschak/vdjrec/internal/engine"
	"github.com/kortschak/vdjrec/internal/generator"
	"github.com/kortschak/vdjrec/internal/ioformat"
	"github.com/kortschak/vdjrec/internal/marginal"
)

var (
	parmsPath  = flag.String("parms", "", "model parameters file (required)")
	marginPath = flag.String("marginals", "", "model marginals file (required)")

	count = flag.Int("n", 100, "number of reads to generate")
	seed  = flag.Int64("seed", 1, "random seed")

	outReads    = flag.String("out", "", "output indexed-sequences CSV (default stdout)")
	outScenario = flag.String("out-scenarios", "", "output scenario CSV (optional)")
)

func main() {
	flag.Parse()
	if *parmsPath == "" || *marginPath == "" {
		fmt.Fprintln(os.Stderr, "invalid argument: parms and marginals are required")
		flag.Usage()
		os.Exit(1)
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

	tensor, err := marginal.ComputeSize(model)
	if err != nil {
		log.Fatalf("failed to size model marginals: %v", err)
	}
	marginFile, err := os.Open(*marginPath)
	if err != nil {
		log.Fatalf("failed to open %q: %v", *marginPath, err)
	}
	err = ioformat.ReadMarginals(marginFile, tensor)
	marginFile.Close()
	if err != nil {
		log.Fatalf("failed to read model marginals: %v", err)
	}

	gen, err := generator.New(model, tensor, em)
	if err != nil {
		log.Fatalf("failed to build generator: %v", err)
	}

	var scenarioOut *os.File
	var scenarioCSV *csv.Writer
	if *outScenario != "" {
		scenarioOut, err = os.Create(*outScenario)
		if err != nil {
			log.Fatalf("failed to create %q: %v", *outScenario, err)
		}
		defer scenarioOut.Close()
		scenarioCSV = csv.NewWriter(scenarioOut)
		scenarioCSV.Comma = ';'
		if err := scenarioCSV.Write([]string{"seq_index", "scenario", "error_positions"}); err != nil {
			log.Fatalf("failed to write scenario header: %v", err)
		}
	}

	rng := rand.New(rand.NewSource(*seed))
	reads := make([]engine.Read, *count)
	for i := 0; i < *count; i++ {
		res, err := gen.Generate(rng)
		if err != nil {
			log.Fatalf("generating read %d: %v", i, err)
		}
		reads[i] = engine.Read{Index: i, Seq: res.Read}

		if scenarioCSV != nil {
			if err := scenarioCSV.Write([]string{
				strconv.Itoa(i),
				formatScenario(res.Scenario),
				intListCSV(res.Errors),
			}); err != nil {
				log.Fatalf("failed to write scenario row %d: %v", i, err)
			}
		}
	}
	if scenarioCSV != nil {
		scenarioCSV.Flush()
		if err := scenarioCSV.Error(); err != nil {
			log.Fatalf("failed to flush scenario CSV: %v", err)
		}
	}

	readsOut := os.Stdout
	if *outReads != "" {
		f, err := os.Create(*outReads)
		if err != nil {
			log.Fatalf("failed to create %q: %v", *outReads, err)
		}
		defer f.Close()
		readsOut = f
	}
	if err := ioformat.WriteSequences(readsOut, reads); err != nil {
		log.Fatalf("failed to write generated reads: %v", err)
	}
}

// formatScenario renders one generated scenario as a comma-separated list
// of event:token pairs, in the same order and shape as
// internal/ioformat's inference log seq_best_scenario field.
func formatScenario(rs []generator.Realisation) string {
	toks := make([]string, len(rs))
	for i, r := range rs {
		tok := r.Content
		if tok == "" {
			tok = r.Name
		}
		toks[i] = r.Event + ":" + tok
	}
	return strings.Join(toks, ",")
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
