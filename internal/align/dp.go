package align

import "github.com/kortschak/vdjrec/internal/nt"

// from records which candidate a DP cell's score was derived from, using the
// tie-break precedence substitution ≥ deletion-in-read ≥ deletion-in-template.
type from uint8

const (
	fromNone from = iota // cell clamped to zero; starts a new alignment region
	fromDiag             // substitution/match
	fromDel              // gap in read (template base has no read counterpart): moves (i, j-1) -> (i, j)
	fromIns              // gap in template (read base has no template counterpart): moves (i-1, j) -> (i, j)
)

// rawAlignment is one traced-back local (or global-V) alignment path in the
// DP's own working coordinate space (which may be reversed relative to the
// caller's sequences if Options.Flip is set).
type rawAlignment struct {
	score float64

	// startI/startJ and endI/endJ are the 0-indexed working-space read and
	// template positions of the first and last aligned base of the path.
	startI, startJ int
	endI, endJ     int

	insertions []int // working-space read coordinates
	deletions  []int // working-space template coordinates
	mismatches []int // working-space read coordinates
	length     int
}

// fillLocal runs the unbanded local Smith-Waterman recurrence and returns one
// rawAlignment per connected positive-score region, each traced back from
// that region's maximum-scoring cell. The offset band is not applied here;
// AlignOne filters the returned alignments by band afterwards.
func fillLocal(read, tmpl []nt.Code, m nt.Matrix, gap, threshold float64) []rawAlignment {
	rows, cols := len(read)+1, len(tmpl)+1
	score := make([][]float64, rows)
	dir := make([][]from, rows)
	for i := range score {
		score[i] = make([]float64, cols)
		dir[i] = make([]from, cols)
	}

	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			sub := score[i-1][j-1] + m.Score(read[i-1], tmpl[j-1])
			del := score[i][j-1] - gap
			ins := score[i-1][j] - gap

			best, bd := sub, fromDiag
			if del > best {
				best, bd = del, fromDel
			}
			if ins > best {
				best, bd = ins, fromIns
			}
			if best <= 0 {
				score[i][j] = 0
				dir[i][j] = fromNone
			} else {
				score[i][j] = best
				dir[i][j] = bd
			}
		}
	}

	uf := newUnionFind(rows * cols)
	idx := func(i, j int) int { return i*cols + j }
	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			if score[i][j] <= 0 {
				continue
			}
			switch dir[i][j] {
			case fromDiag:
				uf.union(idx(i, j), idx(i-1, j-1))
			case fromDel:
				uf.union(idx(i, j), idx(i, j-1))
			case fromIns:
				uf.union(idx(i, j), idx(i-1, j))
			}
		}
	}

	type cell struct {
		i, j  int
		score float64
	}
	regionMax := make(map[int]cell)
	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			if score[i][j] <= 0 {
				continue
			}
			root := uf.find(idx(i, j))
			cur, ok := regionMax[root]
			if !ok || score[i][j] > cur.score {
				regionMax[root] = cell{i, j, score[i][j]}
			}
		}
	}

	var out []rawAlignment
	for _, r := range regionMax {
		if r.score < threshold {
			continue
		}
		out = append(out, traceback(read, tmpl, m, score, dir, r.i, r.j, true))
	}
	return out
}

// fillGlobalV runs the V-gene alignment mode: the template is forced to be
// consumed in full (a Needleman-Wunsch style recurrence along the template
// axis, never clamped to zero) while the read is free to start anywhere (a
// Smith-Waterman style free ride along the read axis at j=0). This produces
// a "global-ish right-anchored" alignment suited to V genes, whose germline
// template is expected to be fully consumed even when the read extends past
// either end of it.
func fillGlobalV(read, tmpl []nt.Code, m nt.Matrix, gap, threshold float64) []rawAlignment {
	rows, cols := len(read)+1, len(tmpl)+1
	score := make([][]float64, rows)
	dir := make([][]from, rows)
	for i := range score {
		score[i] = make([]float64, cols)
		dir[i] = make([]from, cols)
	}
	for j := 1; j < cols; j++ {
		score[0][j] = score[0][j-1] - gap
		dir[0][j] = fromDel
	}
	// score[i][0] stays 0 for all i: free start anywhere in the read.

	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			sub := score[i-1][j-1] + m.Score(read[i-1], tmpl[j-1])
			del := score[i][j-1] - gap
			ins := score[i-1][j] - gap

			best, bd := sub, fromDiag
			if del > best {
				best, bd = del, fromDel
			}
			if ins > best {
				best, bd = ins, fromIns
			}
			score[i][j] = best
			dir[i][j] = bd
		}
	}

	bestI, bestScore := -1, 0.0
	for i := 1; i < rows; i++ {
		if bestI == -1 || score[i][cols-1] > bestScore {
			bestI, bestScore = i, score[i][cols-1]
		}
	}
	if bestI == -1 || bestScore < threshold {
		return nil
	}

	var out []rawAlignment
	for i := 1; i < rows; i++ {
		if score[i][cols-1] == bestScore {
			out = append(out, traceback(read, tmpl, m, score, dir, i, cols-1, false))
		}
	}
	return out
}

// traceback walks dir backward from (i,j) until reaching a fromNone cell (in
// local mode) or the j=0 column (in global-V mode, stopAtZero false),
// accumulating insertion/deletion/mismatch coordinates in working-space
// terms. A diagonal step is a mismatch when the two bases are not
// Compatible.
func traceback(read, tmpl []nt.Code, m nt.Matrix, score [][]float64, dir [][]from, i, j int, stopAtZero bool) rawAlignment {
	ra := rawAlignment{score: score[i][j], endI: i - 1, endJ: j - 1}
	for {
		if stopAtZero && dir[i][j] == fromNone {
			break
		}
		if !stopAtZero && j == 0 {
			break
		}
		switch dir[i][j] {
		case fromDiag:
			rc, tc := i-1, j-1
			if !nt.Compatible(read[rc], tmpl[tc]) {
				ra.mismatches = append(ra.mismatches, rc)
			}
			ra.length++
			i, j = i-1, j-1
		case fromDel:
			ra.deletions = append(ra.deletions, j-1)
			ra.length++
			j--
		case fromIns:
			ra.insertions = append(ra.insertions, i-1)
			ra.length++
			i--
		default:
			// Only reachable here in global-V mode if the path runs off the
			// top of the matrix before reaching j=0, which cannot happen
			// since dir[0][j] is always fromDel for j>0.
			return ra
		}
	}
	ra.startI, ra.startJ = i, j
	return ra
}
