// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scratch is the per-worker mutable state threaded through the
// scenario enumerator's recursion. The six sequence-type slots, their
// offsets, mismatch index lists and downstream-probability cache are held in
// fixed-index arrays rather than the keyed maps
// _examples/original_source/igor_src/GenModel.cpp carries (its
// Seq_type_str_p_map/Seq_offsets_map are sized 6 at construction, i.e. a
// closed enum in practice already).
package scratch

import "github.com/kortschak/vdjrec/internal/nt"

// SeqType is one of the six sequence slots a scenario constructs.
type SeqType int

const (
	VGene SeqType = iota
	DGene
	JGene
	VJIns
	VDIns
	DJIns

	numSeqTypes
)

func (t SeqType) String() string {
	switch t {
	case VGene:
		return "V_gene_seq"
	case DGene:
		return "D_gene_seq"
	case JGene:
		return "J_gene_seq"
	case VJIns:
		return "VJ_ins_seq"
	case VDIns:
		return "VD_ins_seq"
	case DJIns:
		return "DJ_ins_seq"
	default:
		return "unknown_seq_type"
	}
}

// NumSeqTypes is the number of sequence-type slots.
const NumSeqTypes = int(numSeqTypes)

// Offset is the current read-coordinate span of a sequence-type slot's
// content, half-open [Start, End).
type Offset struct {
	Start, End int
}

// Empty reports whether the slot has not yet been assigned a span.
func (o Offset) Empty() bool { return o.Start == 0 && o.End == 0 }

// Scratch is one worker's reconstruction workspace for a single read. It is
// constructed once per worker and Reset at the start of each sequence; it
// is never reused across workers.
type Scratch struct {
	seq        [numSeqTypes][]nt.Code
	offset     [numSeqTypes]Offset
	mismatch   [numSeqTypes][]int
	downstream [numSeqTypes]float64

	index  map[string]int
	safety map[string]bool

	pBest float64

	// cursor is the generator's write position: the read-coordinate end of
	// the content placed so far, moved as the generator walks the event
	// queue (forward by AdvanceCursor, and possibly backward by SetCursor
	// after a deletion). Unused during inference, which
	// gets its placement coordinates from the read's own alignments
	// instead.
	cursor int

	stack []frame
}

// frame is the undo record pushed by Begin and popped by End. Reusing one
// preallocated, capacity-backed slice across an entire read's recursion
// keeps Begin/End allocation-free after the first few calls warm the stack,
// the Go analogue of the original's stack-allocated per-layer undo records.
type frame struct {
	seqType SeqType

	prevSeq        []nt.Code
	prevOffset     Offset
	prevMismatchLen int
	prevDownstream float64

	eventName    string
	hadIndex     bool
	prevIndex    int
	hadSafety    bool
	prevSafetyOK bool
}

// New returns a ready-to-use Scratch.
func New() *Scratch {
	s := &Scratch{
		index:  make(map[string]int),
		safety: make(map[string]bool),
		stack:  make([]frame, 0, 64),
	}
	return s
}

// Reset shallow-clears every container without reallocating backing
// storage, ready for the next read.
func (s *Scratch) Reset() {
	for t := 0; t < int(numSeqTypes); t++ {
		s.seq[t] = s.seq[t][:0]
		s.mismatch[t] = s.mismatch[t][:0]
		s.offset[t] = Offset{}
		s.downstream[t] = 0
	}
	clear(s.index)
	clear(s.safety)
	s.pBest = 0
	s.cursor = 0
	s.stack = s.stack[:0]
}

// Cursor returns the generator's current write position.
func (s *Scratch) Cursor() int { return s.cursor }

// AdvanceCursor moves the write position forward to to, if to is further
// along than the current position.
func (s *Scratch) AdvanceCursor(to int) {
	if to > s.cursor {
		s.cursor = to
	}
}

// SetCursor moves the write position to to unconditionally. Unlike
// AdvanceCursor, it can move the cursor backward, which a Deletion event's
// generation step needs: trimming a gene segment's already-placed right end
// shrinks the read-coordinate frontier the next event starts writing from.
func (s *Scratch) SetCursor(to int) { s.cursor = to }

// Seq returns the current nucleotide content of slot t.
func (s *Scratch) Seq(t SeqType) []nt.Code { return s.seq[t] }

// SliceOffset returns the current read-coordinate span of slot t.
func (s *Scratch) SliceOffset(t SeqType) Offset { return s.offset[t] }

// Mismatches returns the read-coordinate mismatch positions accumulated so
// far for slot t.
func (s *Scratch) Mismatches(t SeqType) []int { return s.mismatch[t] }

// DownstreamBound returns the cached upper bound on the probability of all
// events downstream of the one that last constructed slot t.
func (s *Scratch) DownstreamBound(t SeqType) float64 { return s.downstream[t] }

// PBest returns the best full-scenario probability seen so far for this
// read, used by the pruning check.
func (s *Scratch) PBest() float64 { return s.pBest }

// SetPBest raises the running best-scenario probability. Monotone: the
// caller must never lower it, and it is not rewound by End; it belongs to
// the whole enumeration of one read, not to any one event's subtree.
func (s *Scratch) SetPBest(p float64) {
	if p > s.pBest {
		s.pBest = p
	}
}

// Index returns the dense realisation index the named event currently has
// chosen, if any.
func (s *Scratch) Index(event string) (int, bool) {
	v, ok := s.index[event]
	return v, ok
}

// Safety returns the named event's recorded constraint-check outcome.
func (s *Scratch) Safety(event string) (bool, bool) {
	v, ok := s.safety[event]
	return v, ok
}

// Begin opens an undo frame for the named event's effect on slot t. Call it
// before mutating the slot's content/offset/mismatches or the event's index
// or safety entries, and call End when unwinding back out of that event's
// iterate call.
func (s *Scratch) Begin(event string, t SeqType) {
	f := frame{
		seqType:         t,
		prevSeq:         s.seq[t],
		prevOffset:      s.offset[t],
		prevMismatchLen: len(s.mismatch[t]),
		prevDownstream:  s.downstream[t],
		eventName:       event,
	}
	if v, ok := s.index[event]; ok {
		f.hadIndex, f.prevIndex = true, v
	}
	if v, ok := s.safety[event]; ok {
		f.hadSafety, f.prevSafetyOK = true, v
	}
	s.stack = append(s.stack, f)
}

// End pops the most recently opened frame, restoring slot t's content,
// offset, mismatch list, downstream bound and the event's index/safety
// entries to what they were before the matching Begin.
func (s *Scratch) End() {
	n := len(s.stack) - 1
	f := s.stack[n]
	s.stack = s.stack[:n]

	s.seq[f.seqType] = f.prevSeq
	s.offset[f.seqType] = f.prevOffset
	s.mismatch[f.seqType] = s.mismatch[f.seqType][:f.prevMismatchLen]
	s.downstream[f.seqType] = f.prevDownstream

	if f.hadIndex {
		s.index[f.eventName] = f.prevIndex
	} else {
		delete(s.index, f.eventName)
	}
	if f.hadSafety {
		s.safety[f.eventName] = f.prevSafetyOK
	} else {
		delete(s.safety, f.eventName)
	}
}

// SetSeq assigns slot t's content, span and downstream bound. Must be
// called within a Begin/End frame opened for (event, t).
func (s *Scratch) SetSeq(t SeqType, seq []nt.Code, off Offset, downstreamBound float64) {
	s.seq[t] = seq
	s.offset[t] = off
	s.downstream[t] = downstreamBound
}

// AppendMismatch records a read-coordinate mismatch position in slot t.
func (s *Scratch) AppendMismatch(t SeqType, pos int) {
	s.mismatch[t] = append(s.mismatch[t], pos)
}

// SetIndex records the named event's chosen dense realisation index.
func (s *Scratch) SetIndex(event string, idx int) {
	s.index[event] = idx
}

// SetSafety records the named event's constraint-check outcome.
func (s *Scratch) SetSafety(event string, ok bool) {
	s.safety[event] = ok
}

// SegmentEnd names which end of a germline gene segment a Deletion event
// trims or palindromically extends.
type SegmentEnd int

const (
	LeftEnd SegmentEnd = iota
	RightEnd
)

// IncorporateDeletion applies a Deletion event's trim length n to seq at the
// given end. n >= 0 removes n germline bases from that end. n < 0 is a
// palindromic P-nucleotide insertion of |n| bases: the sequence is extended
// past its original end with the reverse complement of the |n| germline
// bases immediately inboard of that end, which is how a hairpin-opened
// palindrome reads on the template strand. |n| is clamped to len(seq) in
// both directions: deleting more than the segment holds empties it, and a
// palindrome can extend by at most the bases it has to reflect.
func IncorporateDeletion(seq []nt.Code, n int, end SegmentEnd) []nt.Code {
	switch end {
	case RightEnd:
		if n >= 0 {
			if n > len(seq) {
				n = len(seq)
			}
			return seq[:len(seq)-n]
		}
		k := -n
		if k > len(seq) {
			k = len(seq)
		}
		overhang := nt.ReverseComplement(seq[len(seq)-k:])
		out := make([]nt.Code, 0, len(seq)+len(overhang))
		out = append(out, seq...)
		out = append(out, overhang...)
		return out
	default: // LeftEnd
		if n >= 0 {
			if n > len(seq) {
				n = len(seq)
			}
			return seq[n:]
		}
		k := -n
		if k > len(seq) {
			k = len(seq)
		}
		overhang := nt.ReverseComplement(seq[:k])
		out := make([]nt.Code, 0, len(seq)+len(overhang))
		out = append(out, overhang...)
		out = append(out, seq...)
		return out
	}
}
