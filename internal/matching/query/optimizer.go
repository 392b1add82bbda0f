package query

// Optimize is a stateless rewrite pass run after Build and before Freeze.
// It folds always-true/always-false constants, collapses degenerate
// single-child AND/OR nodes, and sets docIDLimit on the resulting root.
// It does not fetch postings or mutate estimates beyond what folding implies;
// FetchPostings still runs exactly once, afterward.
func Optimize(root Blueprint, docIDLimit uint32) Blueprint {
	root = fold(root)
	root.SetDocIDLimit(docIDLimit)
	return root
}

// fold rewrites a blueprint subtree bottom-up.
func fold(b Blueprint) Blueprint {
	kids := b.children()
	if kids == nil {
		return b
	}
	folded := make([]Blueprint, len(kids))
	for i, k := range kids {
		folded[i] = fold(k)
	}
	switch b.(type) {
	case *AndBlueprint:
		return foldAnd(folded)
	case *OrBlueprint:
		return foldOr(folded)
	case *AndNotBlueprint:
		return foldAndNot(folded)
	case *RankBlueprint:
		return foldRank(folded)
	default:
		return b
	}
}

func isEmpty(b Blueprint) bool {
	_, ok := b.(*EmptyBlueprint)
	return ok || b.Estimate().EstEmpty
}

func isAlwaysTrue(b Blueprint) bool {
	_, ok := b.(*AlwaysTrueBlueprint)
	return ok
}

// foldAnd: any empty child collapses the whole AND to empty; an
// AlwaysTrue child is dropped (it contributes nothing); a single
// remaining child replaces the AND outright.
func foldAnd(kids []Blueprint) Blueprint {
	kept := make([]Blueprint, 0, len(kids))
	for _, k := range kids {
		if isEmpty(k) {
			return NewEmptyBlueprint("and-operand-empty")
		}
		if isAlwaysTrue(k) {
			continue
		}
		kept = append(kept, k)
	}
	switch len(kept) {
	case 0:
		if len(kids) == 0 {
			return NewEmptyBlueprint("and-no-operands")
		}
		return kids[0]
	case 1:
		return kept[0]
	default:
		return NewAndBlueprint(kept)
	}
}

// foldOr: empty children are dropped; an AlwaysTrue child collapses the
// whole OR to AlwaysTrue; a single remaining child replaces the OR.
func foldOr(kids []Blueprint) Blueprint {
	kept := make([]Blueprint, 0, len(kids))
	var docIDLimit uint32
	for _, k := range kids {
		if isAlwaysTrue(k) {
			return k
		}
		if k.DocIDLimit() > docIDLimit {
			docIDLimit = k.DocIDLimit()
		}
		if isEmpty(k) {
			continue
		}
		kept = append(kept, k)
	}
	switch len(kept) {
	case 0:
		return NewEmptyBlueprint("or-all-operands-empty")
	case 1:
		return kept[0]
	default:
		return NewOrBlueprint(kept)
	}
}

// foldAndNot: an empty positive child collapses to empty; empty
// exclusions are dropped since they can never exclude anything. An
// AlwaysTrue exclusion is kept as it is; folding does not rewrite it.
func foldAndNot(kids []Blueprint) Blueprint {
	if len(kids) == 0 {
		return NewEmptyBlueprint("andnot-no-operands")
	}
	if isEmpty(kids[0]) {
		return NewEmptyBlueprint("andnot-positive-empty")
	}
	negatives := make([]Blueprint, 0, len(kids)-1)
	for _, k := range kids[1:] {
		if isEmpty(k) {
			continue
		}
		negatives = append(negatives, k)
	}
	if len(negatives) == 0 {
		return kids[0]
	}
	return NewAndNotBlueprint(append([]Blueprint{kids[0]}, negatives...))
}

// foldRank: drop empty ranking-only children (kids[1:]); if the driving
// child (kids[0]) is empty the whole RANK is empty; with no ranking
// children left, RANK degrades to its driving child.
func foldRank(kids []Blueprint) Blueprint {
	if len(kids) == 0 {
		return NewEmptyBlueprint("rank-no-operands")
	}
	if isEmpty(kids[0]) {
		return NewEmptyBlueprint("rank-driver-empty")
	}
	extra := make([]Blueprint, 0, len(kids)-1)
	for _, k := range kids[1:] {
		if isEmpty(k) {
			continue
		}
		extra = append(extra, k)
	}
	if len(extra) == 0 {
		return kids[0]
	}
	return NewRankBlueprint(append([]Blueprint{kids[0]}, extra...))
}
