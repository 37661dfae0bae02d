package align

import "sort"

// toAlignment converts a working-space traceback result into the public,
// original-coordinate Alignment record, reflecting every coordinate back if
// the DP ran on flipped (reversed) sequences. tmplLen is the template's
// original (unreversed) length.
func (ra rawAlignment) toAlignment(name string, class Class, readLen, tmplLen int, flipped bool) Alignment {
	a := Alignment{
		Gene:   name,
		Class:  class,
		Score:  ra.score,
		Length: ra.length,
	}

	if !flipped {
		a.FivePrime, a.ThreePrime = ra.startI, ra.endI
		a.Offset = ra.startI - ra.startJ
		a.Insertions = sortedCopy(ra.insertions)
		a.Deletions = sortedCopy(ra.deletions)
		a.Mismatches = sortedCopy(ra.mismatches)
		return a
	}

	// Working-space positions increase from the traceback's stopping point
	// (the alignment's start) to its origin (the alignment's end); the
	// reflection origPos = len-1-workingPos inverts that order, so the
	// original-space start is derived from the working-space end, and vice
	// versa.
	origStartI := readLen - 1 - ra.endI
	origStartJ := tmplLen - 1 - ra.endJ

	a.FivePrime, a.ThreePrime = origStartI, readLen-1-ra.startI
	a.Offset = origStartI - origStartJ
	a.Insertions = reflectSorted(ra.insertions, readLen)
	a.Mismatches = reflectSorted(ra.mismatches, readLen)
	a.Deletions = reflectSorted(ra.deletions, tmplLen)
	return a
}

func sortedCopy(s []int) []int {
	if len(s) == 0 {
		return nil
	}
	out := append([]int(nil), s...)
	sort.Ints(out)
	return out
}

func reflectSorted(s []int, length int) []int {
	if len(s) == 0 {
		return nil
	}
	out := make([]int, len(s))
	for i, v := range s {
		out[i] = length - 1 - v
	}
	sort.Ints(out)
	return out
}
