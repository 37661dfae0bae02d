// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package modelgraph holds the recombination event DAG: event nodes, their
// realisation lists, and the adjacency structure that the scenario
// enumerator walks in topological order.
package modelgraph

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/kortschak/vdjrec/internal/nt"
)

// EventType is the kind of latent decision an Event represents.
type EventType int

const (
	GeneChoice EventType = iota
	Deletion
	Insertion
	DinucleotideMarkov
)

func (t EventType) String() string {
	switch t {
	case GeneChoice:
		return "GeneChoice"
	case Deletion:
		return "Deletion"
	case Insertion:
		return "Insertion"
	case DinucleotideMarkov:
		return "DinucleotideMarkov"
	default:
		return "Unknown"
	}
}

// GeneClass is the biological role an Event or Realisation is scoped to.
// Unlike align.Class, it also carries the composite junction tags the model
// graph's Insertion and DinucleotideMarkov events use.
type GeneClass int

const (
	Undefined GeneClass = iota
	V
	D
	J
	VD
	DJ
	VJ
)

func (c GeneClass) String() string {
	switch c {
	case V:
		return "V"
	case D:
		return "D"
	case J:
		return "J"
	case VD:
		return "VD"
	case DJ:
		return "DJ"
	case VJ:
		return "VJ"
	default:
		return "Undefined"
	}
}

// SequenceSide distinguishes 5' from 3' trimming/insertion events on a gene.
type SequenceSide int

const (
	UndefinedSide SequenceSide = iota
	FivePrime
	ThreePrime
)

// Realisation is one concrete outcome of an Event.
type Realisation struct {
	Name  string
	Value int
	Seq   []nt.Code // only set for GeneChoice realisations
	Index int       // dense index into the owning Event's Realisations
}

// Event is a node in the model DAG.
type Event struct {
	id int64

	Name     string
	Nickname string
	Type     EventType
	Class    GeneClass
	Side     SequenceSide
	Priority int

	Realisations []Realisation
	Fixed        bool
}

// ID returns the event's stable integer identifier, assigned at insertion
// and never reused within a Model.
func (e *Event) ID() int64 { return e.id }

func (e *Event) String() string { return e.Name }

var (
	// ErrDuplicateName is returned when AddEvent is called with a name or
	// nickname already present in the Model.
	ErrDuplicateName = errors.New("modelgraph: duplicate event name or nickname")
	// ErrUnknownEvent is returned when an operation references an event name
	// not present in the Model.
	ErrUnknownEvent = errors.New("modelgraph: unknown event")
	// ErrCycle is returned when adding or inverting an edge would make the
	// graph cyclic. The graph is left unchanged.
	ErrCycle = errors.New("modelgraph: edge would create a cycle")
)

// Model is the event DAG: an append-only pool of Events plus their
// adjacency, backed by a gonum directed graph for cycle detection and
// topological sorting.
type Model struct {
	g      *simple.DirectedGraph
	byName map[string]*Event
	byNick map[string]*Event
	byID   map[int64]*Event
	nextID int64
}

// NewModel returns an empty event graph.
func NewModel() *Model {
	return &Model{
		g:      simple.NewDirectedGraph(),
		byName: make(map[string]*Event),
		byNick: make(map[string]*Event),
		byID:   make(map[int64]*Event),
	}
}

// AddEvent inserts a new event and returns it. The event's Name and Nickname
// must both be unique within the Model.
func (m *Model) AddEvent(e Event) (*Event, error) {
	if _, ok := m.byName[e.Name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, e.Name)
	}
	if e.Nickname != "" {
		if _, ok := m.byNick[e.Nickname]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, e.Nickname)
		}
	}
	for i := range e.Realisations {
		e.Realisations[i].Index = i
	}
	ev := e
	ev.id = m.nextID
	m.nextID++

	stored := &ev
	m.byName[stored.Name] = stored
	if stored.Nickname != "" {
		m.byNick[stored.Nickname] = stored
	}
	m.byID[stored.id] = stored
	m.g.AddNode(simple.Node(stored.id))
	return stored, nil
}

// Event looks up an event by name or nickname.
func (m *Model) Event(name string) (*Event, error) {
	if e, ok := m.byName[name]; ok {
		return e, nil
	}
	if e, ok := m.byNick[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// Events returns every event in the Model, ordered by insertion id.
func (m *Model) Events() []*Event {
	out := make([]*Event, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// AddEdge adds a directed edge parent->child. If doing so would make the
// graph cyclic, the edge is not added and ErrCycle is returned.
func (m *Model) AddEdge(parent, child string) error {
	p, err := m.Event(parent)
	if err != nil {
		return err
	}
	c, err := m.Event(child)
	if err != nil {
		return err
	}
	if m.g.HasEdgeFromTo(p.id, c.id) {
		return nil
	}
	m.g.SetEdge(simple.Edge{F: simple.Node(p.id), T: simple.Node(c.id)})
	if _, err := topo.Sort(m.g); err != nil {
		m.g.RemoveEdge(p.id, c.id)
		return fmt.Errorf("%w: %s -> %s", ErrCycle, parent, child)
	}
	return nil
}

// RemoveEdge removes the directed edge parent->child, if present.
// AddEdge followed by RemoveEdge on the same pair is the identity on the
// adjacency structure.
func (m *Model) RemoveEdge(parent, child string) error {
	p, err := m.Event(parent)
	if err != nil {
		return err
	}
	c, err := m.Event(child)
	if err != nil {
		return err
	}
	m.g.RemoveEdge(p.id, c.id)
	return nil
}

// InvertEdge replaces the directed edge parent->child with child->parent,
// rejecting the inversion (leaving the graph unchanged) if it would create
// a cycle.
func (m *Model) InvertEdge(parent, child string) error {
	p, err := m.Event(parent)
	if err != nil {
		return err
	}
	c, err := m.Event(child)
	if err != nil {
		return err
	}
	had := m.g.HasEdgeFromTo(p.id, c.id)
	m.g.RemoveEdge(p.id, c.id)
	m.g.SetEdge(simple.Edge{F: simple.Node(c.id), T: simple.Node(p.id)})
	if _, err := topo.Sort(m.g); err != nil {
		m.g.RemoveEdge(c.id, p.id)
		if had {
			m.g.SetEdge(simple.Edge{F: simple.Node(p.id), T: simple.Node(c.id)})
		}
		return fmt.Errorf("%w: %s -> %s", ErrCycle, child, parent)
	}
	return nil
}

// Parents returns the direct parents of event name, in no particular order.
func (m *Model) Parents(name string) ([]*Event, error) {
	e, err := m.Event(name)
	if err != nil {
		return nil, err
	}
	var out []*Event
	nodes := m.g.To(e.id)
	for nodes.Next() {
		out = append(out, m.byID[nodes.Node().ID()])
	}
	return out, nil
}

// Children returns the direct children of event name, in no particular
// order.
func (m *Model) Children(name string) ([]*Event, error) {
	e, err := m.Event(name)
	if err != nil {
		return nil, err
	}
	var out []*Event
	nodes := m.g.From(e.id)
	for nodes.Next() {
		out = append(out, m.byID[nodes.Node().ID()])
	}
	return out, nil
}

// Queue returns every event in a valid topological order (parents before
// children), with ties between events having no ordering constraint between
// them broken first by descending Priority, then by Name. This is the order
// the scenario enumerator iterates events in.
func (m *Model) Queue() ([]*Event, error) {
	sorted, err := topo.SortStabilized(m.g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			ei, ej := m.byID[nodes[i].ID()], m.byID[nodes[j].ID()]
			if ei.Priority != ej.Priority {
				return ei.Priority > ej.Priority
			}
			return ei.Name < ej.Name
		})
	})
	if err != nil {
		return nil, fmt.Errorf("modelgraph: graph is not a DAG: %w", err)
	}
	out := make([]*Event, len(sorted))
	for i, n := range sorted {
		out[i] = m.byID[n.ID()]
	}
	return out, nil
}
