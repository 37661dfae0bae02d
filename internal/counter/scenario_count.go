// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package counter

import (
	"fmt"
	"io"

	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
)

// ScenarioCountCounter tallies seq_n_scenarios per read (the inference log's
// field of the same name) and the running total/mean across every read
// processed.
type ScenarioCountCounter struct {
	// lastCount is the most recently counted read's scenario count.
	// internal/engine calls CountSequence and DumpSequenceData for one read
	// back to back on the same worker, so DumpSequenceData can report it
	// without a second NumScenarios parameter.
	lastCount int

	total int
	n     int
}

// NewScenarioCountCounter returns a fresh ScenarioCountCounter.
func NewScenarioCountCounter() *ScenarioCountCounter {
	return &ScenarioCountCounter{}
}

func (c *ScenarioCountCounter) Initialize(*modelgraph.Model) error {
	c.lastCount = 0
	c.total = 0
	c.n = 0
	return nil
}

func (c *ScenarioCountCounter) CountSequence(stats SequenceStats, _ *marginal.Tensor) error {
	c.lastCount = stats.NumScenarios
	c.total += stats.NumScenarios
	c.n++
	return nil
}

// DumpSequenceData writes "<seqIndex>;<scenario count>" for the most
// recently counted read.
func (c *ScenarioCountCounter) DumpSequenceData(w io.Writer, seqIndex, _ int) error {
	_, err := fmt.Fprintf(w, "%d;%d\n", seqIndex, c.lastCount)
	return err
}

// DumpDataSummary writes the total scenario count and mean over all reads
// processed this iteration.
func (c *ScenarioCountCounter) DumpDataSummary(w io.Writer, _ int) error {
	mean := 0.0
	if c.n > 0 {
		mean = float64(c.total) / float64(c.n)
	}
	_, err := fmt.Fprintf(w, "total_scenarios;%d\nmean_scenarios;%g\n", c.total, mean)
	return err
}

func (c *ScenarioCountCounter) AddToCounter(other Plugin) error {
	o, ok := other.(*ScenarioCountCounter)
	if !ok {
		return fmt.Errorf("counter: scenario count: type mismatch merging %T", other)
	}
	c.total += o.total
	c.n += o.n
	return nil
}

func (c *ScenarioCountCounter) Copy() Plugin {
	return &ScenarioCountCounter{}
}

func (c *ScenarioCountCounter) LastIterOnly() bool { return false }
