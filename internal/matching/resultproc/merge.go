package resultproc

import (
	"bytes"
	"sort"
)

// mergeEntry pairs a hit with its (possibly absent) sort-data bytes, the
// unit the dual-merge director actually sorts.
type mergeEntry struct {
	hit      Hit
	sortData []byte
}

// Merge is the dual-merge director of §4.7's "Final merge": it combines
// every thread's PartialResult into one globally ordered, size-bounded
// PartialResult, using rank order by default or byte-lexicographic order
// on sort data when any partial carried it. maxSize bounds the output to
// offset+hits worth of hits (§8 testable property 4).
func Merge(partials []*PartialResult, maxSize int) *PartialResult {
	useSortData := false
	var total uint64
	entries := make([]mergeEntry, 0)
	for _, p := range partials {
		if p == nil {
			continue
		}
		total += p.TotalHits
		for i, h := range p.Hits {
			e := mergeEntry{hit: h}
			if p.SortData != nil {
				e.sortData = p.SortData[i]
				useSortData = true
			}
			entries = append(entries, e)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if useSortData {
			c := bytes.Compare(entries[i].sortData, entries[j].sortData)
			if c != 0 {
				return c < 0
			}
			return entries[i].hit.DocID < entries[j].hit.DocID
		}
		if entries[i].hit.Score != entries[j].hit.Score {
			return entries[i].hit.Score > entries[j].hit.Score
		}
		return entries[i].hit.DocID < entries[j].hit.DocID
	})

	if maxSize >= 0 && len(entries) > maxSize {
		entries = entries[:maxSize]
	}

	out := &PartialResult{TotalHits: total, Hits: make([]Hit, len(entries))}
	if useSortData {
		out.SortData = make([][]byte, len(entries))
	}
	for i, e := range entries {
		out.Hits[i] = e.hit
		if useSortData {
			out.SortData[i] = e.sortData
		}
	}
	return out
}

// MergeGroupers pairwise-merges every thread's grouping context into one,
// per §4.7 ("Grouping contexts are merged pairwise by the grouping
// manager"). Returns NoGrouping if groupers is empty.
func MergeGroupers(groupers []Grouper) Grouper {
	if len(groupers) == 0 {
		return NoGrouping{}
	}
	merged := groupers[0]
	for _, g := range groupers[1:] {
		merged = merged.Merge(g)
	}
	return merged
}
