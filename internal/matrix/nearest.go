package matrix

import "sort"

// Fits reports whether the record covers the request in both axes.
func Fits(r Record, width, height int) bool {
	return r.Width >= width && r.Height >= height
}

// fitDistance is the ordering key of the round-up search. The +1 offsets make a record one
// unit above the request rank ahead of an exact match.
func fitDistance(r Record, width, height int) (int, int) {
	return abs(r.Height - (height + 1)), abs(r.Width - (width + 1))
}

// CloserFit reports whether a ranks strictly before b for the given request.
// Equal distances fall back to the lower record ID.
func CloserFit(a, b Record, width, height int) bool {
	ah, aw := fitDistance(a, width, height)
	bh, bw := fitDistance(b, width, height)
	if ah != bh {
		return ah < bh
	}
	if aw != bw {
		return aw < bw
	}
	return a.ID < b.ID
}

// NearestFit returns the smallest-fit record among those covering (width, height).
func NearestFit(records []Record, width, height int) (Record, bool) {
	var (
		best  Record
		found bool
	)
	for _, r := range records {
		if !Fits(r, width, height) {
			continue
		}
		if !found || CloserFit(r, best, width, height) {
			best = r
			found = true
		}
	}
	return best, found
}

// Extreme returns the first record after ordering by the primary axis then the other one.
func Extreme(records []Record, axis Axis, dir Direction) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	sorted := append([]Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		p1, s1 := a.Width, a.Height
		p2, s2 := b.Width, b.Height
		if axis == AxisHeight {
			p1, s1 = a.Height, a.Width
			p2, s2 = b.Height, b.Width
		}
		if p1 != p2 {
			if dir == Descending {
				return p1 > p2
			}
			return p1 < p2
		}
		if s1 != s2 {
			if dir == Descending {
				return s1 > s2
			}
			return s1 < s2
		}
		return a.ID < b.ID
	})
	return sorted[0], true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
