// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package counter

import (
	"fmt"
	"io"
	"sort"

	"github.com/kortschak/vdjrec/internal/marginal"
	"github.com/kortschak/vdjrec/internal/modelgraph"
)

// GeneUsageCounter tallies posterior mass per realisation of a configured
// set of GeneChoice events (typically V_choice, D_choice, J_choice) across
// every read processed, feeding gene-usage reporting.
type GeneUsageCounter struct {
	events []string

	names map[string][]string  // event -> realisation names in index order
	usage map[string][]float64 // event -> summed posterior mass per realisation index
}

// NewGeneUsageCounter returns a counter tallying usage for the named events.
func NewGeneUsageCounter(events ...string) *GeneUsageCounter {
	return &GeneUsageCounter{events: append([]string(nil), events...)}
}

func (c *GeneUsageCounter) Initialize(m *modelgraph.Model) error {
	c.names = make(map[string][]string, len(c.events))
	c.usage = make(map[string][]float64, len(c.events))
	for _, name := range c.events {
		ev, err := m.Event(name)
		if err != nil {
			return fmt.Errorf("counter: gene usage: %w", err)
		}
		if ev.Type != modelgraph.GeneChoice {
			return fmt.Errorf("counter: gene usage: %q is not a GeneChoice event", name)
		}
		realNames := make([]string, len(ev.Realisations))
		for _, r := range ev.Realisations {
			realNames[r.Index] = r.Name
		}
		c.names[name] = realNames
		c.usage[name] = make([]float64, len(realNames))
	}
	return nil
}

func (c *GeneUsageCounter) CountSequence(_ SequenceStats, marginals *marginal.Tensor) error {
	for _, name := range c.events {
		sum, err := marginals.MarginalSum(name)
		if err != nil {
			return fmt.Errorf("counter: gene usage: %w", err)
		}
		dst := c.usage[name]
		for i, v := range sum {
			dst[i] += v
		}
	}
	return nil
}

func (c *GeneUsageCounter) DumpSequenceData(io.Writer, int, int) error { return nil }

// DumpDataSummary writes, for every configured event, one line per
// realisation: "<event>;<realisation>;<summed posterior mass>", sorted by
// event name; within an event, realisations follow the event's realisation
// index order, not their names.
func (c *GeneUsageCounter) DumpDataSummary(w io.Writer, _ int) error {
	events := append([]string(nil), c.events...)
	sort.Strings(events)
	for _, name := range events {
		realNames := c.names[name]
		usage := c.usage[name]
		for i, rn := range realNames {
			if _, err := fmt.Fprintf(w, "%s;%s;%g\n", name, rn, usage[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *GeneUsageCounter) AddToCounter(other Plugin) error {
	o, ok := other.(*GeneUsageCounter)
	if !ok {
		return fmt.Errorf("counter: gene usage: type mismatch merging %T", other)
	}
	for _, name := range c.events {
		dst := c.usage[name]
		src := o.usage[name]
		for i := range dst {
			dst[i] += src[i]
		}
	}
	return nil
}

func (c *GeneUsageCounter) Copy() Plugin {
	out := &GeneUsageCounter{
		events: append([]string(nil), c.events...),
		names:  make(map[string][]string, len(c.names)),
		usage:  make(map[string][]float64, len(c.usage)),
	}
	for name, rn := range c.names {
		out.names[name] = rn // realisation names are immutable once Initialize runs
	}
	for name, u := range c.usage {
		out.usage[name] = make([]float64, len(u))
	}
	return out
}

func (c *GeneUsageCounter) LastIterOnly() bool { return false }
