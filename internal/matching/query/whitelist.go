package query

// ApplyWhitelist splices a whitelist plan (the set of visible, not
// deleted/hidden documents) into root so it AND-guards the
// match-producing subtree. If root is RANK or AND-NOT, the whitelist is
// attached to the match-driving child at the deepest point in the
// leftmost RANK/AND-NOT chain; otherwise the whole plan is wrapped in
// AND(root, whitelist).
func ApplyWhitelist(root Blueprint, whitelist Blueprint) Blueprint {
	if whitelist == nil {
		return root
	}
	if guarded, ok := attachToChain(root, whitelist); ok {
		return guarded
	}
	return NewAndBlueprint([]Blueprint{root, whitelist})
}

// attachToChain walks the leftmost chain of RankBlueprint/AndNotBlueprint
// nodes, rewriting the match-driving child (kids[0]) at the deepest node
// still in the chain. It returns (rewritten root, true) on success, or
// (nil, false) if root is not a RANK/AND-NOT node at all.
func attachToChain(node Blueprint, whitelist Blueprint) (Blueprint, bool) {
	switch n := node.(type) {
	case *RankBlueprint:
		if len(n.kids) == 0 {
			return NewAndBlueprint([]Blueprint{node, whitelist}), true
		}
		child := n.kids[0]
		if rewritten, ok := attachToChain(child, whitelist); ok {
			newKids := append([]Blueprint{rewritten}, n.kids[1:]...)
			return NewRankBlueprint(newKids), true
		}
		newKids := append([]Blueprint{NewAndBlueprint([]Blueprint{child, whitelist})}, n.kids[1:]...)
		return NewRankBlueprint(newKids), true
	case *AndNotBlueprint:
		if len(n.kids) == 0 {
			return NewAndBlueprint([]Blueprint{node, whitelist}), true
		}
		child := n.kids[0]
		if rewritten, ok := attachToChain(child, whitelist); ok {
			newKids := append([]Blueprint{rewritten}, n.kids[1:]...)
			return NewAndNotBlueprint(newKids), true
		}
		newKids := append([]Blueprint{NewAndBlueprint([]Blueprint{child, whitelist})}, n.kids[1:]...)
		return NewAndNotBlueprint(newKids), true
	default:
		return nil, false
	}
}
