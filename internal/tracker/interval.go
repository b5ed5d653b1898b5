package tracker

import "sort"

// Interval is a closed range of watched seconds.
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (i Interval) Len() int {
	return i.End - i.Start
}

// ordered returns i with Start <= End. A rewind checkpoint produces a
// reversed pair that still covers the same seconds.
func (i Interval) ordered() Interval {
	if i.End < i.Start {
		return Interval{Start: i.End, End: i.Start}
	}
	return i
}

// Merge sorts intervals by start and joins every interval whose start is not
// past the end of the one before it. The result is sorted and pairwise
// disjoint; the input is not modified.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	for i, in := range intervals {
		sorted[i] = in.ordered()
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	merged := []Interval{sorted[0]}
	for _, next := range sorted[1:] {
		cur := &merged[len(merged)-1]
		if next.Start <= cur.End {
			if next.End > cur.End {
				cur.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// TotalLength is the length of the union of intervals.
func TotalLength(intervals []Interval) int {
	total := 0
	for _, in := range Merge(intervals) {
		total += in.Len()
	}
	return total
}
