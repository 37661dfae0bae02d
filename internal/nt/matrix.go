package nt

// Matrix is a square substitution-score matrix over nucleotide codes. It is
// either 4×4 (canonical bases only) or 15×15 (every IUPAC code).
//
// Matrix mirrors the row-major, code-indexed layout
// github.com/biogo/biogo/align.SW uses for its int substitution matrices
// (see cmd/catch's and cmd/reefer's makeTable helpers); scores here are
// real-valued, so the type is independent of biogo's int-only SW type
// rather than an alias of it.
type Matrix [][]float64

// NewMatrix builds a 4×4 canonical substitution matrix with the given match
// and mismatch scores on and off the diagonal.
func NewMatrix(match, mismatch float64) Matrix {
	m := make(Matrix, 4)
	for i := range m {
		row := make([]float64, 4)
		for j := range row {
			if i == j {
				row[j] = match
			} else {
				row[j] = mismatch
			}
		}
		m[i] = row
	}
	return m
}

// Expand returns the 15×15 ambiguous form of a 4×4 canonical matrix m. Each
// ambiguous position scores as the maximum score achievable by any pair of
// canonical bases compatible with the two codes.
func (m Matrix) Expand() Matrix {
	if len(m) == NumCodes {
		out := make(Matrix, NumCodes)
		for i := range out {
			out[i] = append([]float64(nil), m[i]...)
		}
		return out
	}
	if len(m) != 4 {
		panic("nt: Expand requires a 4x4 or 15x15 matrix")
	}

	out := make(Matrix, NumCodes)
	for i := range out {
		out[i] = make([]float64, NumCodes)
	}
	for i := Code(0); i < numCodes; i++ {
		for j := Code(0); j < numCodes; j++ {
			best := negInf
			for a := Code(0); a < 4; a++ {
				if mask[i]&mask[a] == 0 {
					continue
				}
				for b := Code(0); b < 4; b++ {
					if mask[j]&mask[b] == 0 {
						continue
					}
					if s := m[a][b]; s > best {
						best = s
					}
				}
			}
			out[i][j] = best
		}
	}
	return out
}

const negInf = -1e18

// Score returns the substitution score between codes a and b. m must
// already be in its 15×15 expanded form (see Expand) for ambiguous codes
// to be scored correctly.
func (m Matrix) Score(a, b Code) float64 {
	return m[a][b]
}
