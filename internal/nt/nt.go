// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nt provides the compact 15-value IUPAC nucleotide code, an
// ambiguous-match predicate and the substitution matrices used by the
// aligner and the error model.
package nt

import "fmt"

// Code is a compact integer encoding of an IUPAC nucleotide symbol.
type Code uint8

// The canonical bases and the eleven IUPAC ambiguity classes.
const (
	A Code = iota
	C
	G
	T
	R // A or G
	Y // C or T
	K // G or T
	M // A or C
	S // C or G
	W // A or T
	B // C, G or T
	D // A, G or T
	H // A, C or T
	V // A, C or G
	N // A, C, G or T

	numCodes
)

// bit masks over the four canonical bases, one per Code.
var mask = [numCodes]uint8{
	A: 1 << 0,
	C: 1 << 1,
	G: 1 << 2,
	T: 1 << 3,
	R: 1<<0 | 1<<2,
	Y: 1<<1 | 1<<3,
	K: 1<<2 | 1<<3,
	M: 1<<0 | 1<<1,
	S: 1<<1 | 1<<2,
	W: 1<<0 | 1<<3,
	B: 1<<1 | 1<<2 | 1<<3,
	D: 1<<0 | 1<<2 | 1<<3,
	H: 1<<0 | 1<<1 | 1<<3,
	V: 1<<0 | 1<<1 | 1<<2,
	N: 1<<0 | 1<<1 | 1<<2 | 1<<3,
}

var letters = [numCodes]byte{
	A: 'A', C: 'C', G: 'G', T: 'T',
	R: 'R', Y: 'Y', K: 'K', M: 'M', S: 'S', W: 'W',
	B: 'B', D: 'D', H: 'H', V: 'V', N: 'N',
}

var fromLetter map[byte]Code

func init() {
	fromLetter = make(map[byte]Code, numCodes)
	for c, l := range letters {
		fromLetter[l] = Code(c)
	}
}

// NumCodes is the number of distinct nucleotide codes (4 canonical + 11
// IUPAC ambiguity classes).
const NumCodes = int(numCodes)

// Byte returns the IUPAC letter for c.
func (c Code) Byte() byte { return letters[c] }

// String satisfies fmt.Stringer.
func (c Code) String() string { return string(c.Byte()) }

// FromByte decodes an upper-case IUPAC letter into a Code. It reports an
// error for unknown characters; callers treat that as fatal at the call
// site.
func FromByte(b byte) (Code, error) {
	c, ok := fromLetter[b]
	if !ok {
		return 0, fmt.Errorf("nt: unknown nucleotide character %q", b)
	}
	return c, nil
}

// Encode decodes a raw upper-case byte slice into Codes.
func Encode(seq []byte) ([]Code, error) {
	out := make([]Code, len(seq))
	for i, b := range seq {
		c, err := FromByte(b)
		if err != nil {
			return nil, fmt.Errorf("nt: at position %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// Decode renders Codes back to their IUPAC letters.
func Decode(seq []Code) []byte {
	out := make([]byte, len(seq))
	for i, c := range seq {
		out[i] = c.Byte()
	}
	return out
}

// Compatible reports whether a and b share at least one canonical base,
// i.e. whether an alignment position holding a in one sequence and b in the
// other should be scored as a match rather than a mismatch.
func Compatible(a, b Code) bool {
	return mask[a]&mask[b] != 0
}

// complement maps each canonical base to its Watson-Crick partner and each
// ambiguity class to the class of its complemented canonical set.
var complement = [numCodes]Code{
	A: T, T: A, C: G, G: C,
	R: Y, Y: R, K: M, M: K, S: S, W: W,
	B: V, V: B, D: H, H: D, N: N,
}

// Complement returns the Watson-Crick complement of c.
func Complement(c Code) Code { return complement[c] }

// ReverseComplement returns the reverse complement of seq. It is used by
// the generator when emitting reads from a minus-strand scenario and by
// scratch.IncorporateDeletion for palindromic overhangs.
func ReverseComplement(seq []Code) []Code {
	out := make([]Code, len(seq))
	n := len(seq)
	for i, c := range seq {
		out[n-1-i] = Complement(c)
	}
	return out
}

// Reverse returns seq with its element order reversed, without
// complementing. Used by the aligner's plain sequence-flipping mode, which
// reverses without complementing.
func Reverse(seq []Code) []Code {
	out := make([]Code, len(seq))
	n := len(seq)
	for i, c := range seq {
		out[n-1-i] = c
	}
	return out
}
