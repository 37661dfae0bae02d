// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// vdjplot renders a mean-log-likelihood-vs-iteration line chart from a
// likelihood log, the convergence plot companion to cmd/vdjinfer-infer's EM
// loop.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/kortschak/vdjrec/internal/ioformat"
)

var (
	in  = flag.String("in", "", "likelihood log CSV (required)")
	out = flag.String("out", "likelihood.png", "output plot file")

	width  = flag.Float64("width", 15, "plot width in centimetres")
	height = flag.Float64("height", 10, "plot height in centimetres")
)

func main() {
	flag.Parse()
	if *in == "" {
		fmt.Fprintln(os.Stderr, "invalid argument: in is required")
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*in)
	if err != nil {
		log.Fatalf("failed to open %q: %v", *in, err)
	}
	iters, results, err := ioformat.ReadLikelihoodLog(f)
	f.Close()
	if err != nil {
		log.Fatalf("failed to read likelihood log: %v", err)
	}

	pts := make(plotter.XYs, len(iters))
	for i, it := range iters {
		pts[i].X = float64(it)
		pts[i].Y = results[i].MeanLogLikelihood
	}

	p := plot.New()
	p.Title.Text = "EM convergence"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "mean log likelihood"

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		log.Fatalf("failed to build line plotter: %v", err)
	}
	p.Add(line, points)

	if err := p.Save(vg.Length(*width)*vg.Centimeter, vg.Length(*height)*vg.Centimeter, *out); err != nil {
		log.Fatalf("failed to save plot to %q: %v", *out, err)
	}
}
