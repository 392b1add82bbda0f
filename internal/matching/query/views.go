package query

// ResolveViews rewrites every leaf's field list through the schema's
// view resolver: a name that resolves to one or more concrete fields is
// replaced by them, one that resolves to nothing is kept as-is (it is
// either already a concrete field, or the builder will report it as a
// resolution failure). Runs before SplitFields, which then fans the
// resolved multi-field leaves out per field.
func ResolveViews(n Node, r FieldResolver) Node {
	if r == nil {
		return n
	}
	switch v := n.(type) {
	case Term:
		return Term{Fields: resolveFieldList(v.Fields, r), TermText: v.TermText}
	case MultiTerm:
		return MultiTerm{Kind: v.Kind, Fields: resolveFieldList(v.Fields, r), Terms: v.Terms, TargetHits: v.TargetHits}
	case Phrase:
		fields := resolveFieldList([]string{v.Field}, r)
		if len(fields) == 1 {
			return Phrase{Field: fields[0], Terms: v.Terms}
		}
		// A phrase over a multi-field view is replicated per field; the
		// splitter's OR-mixing rule applies the same way it does for
		// plain terms.
		kids := make([]Node, len(fields))
		for i, f := range fields {
			kids[i] = Phrase{Field: f, Terms: v.Terms}
		}
		return Or{Children: kids}
	case SameElement:
		fields := resolveFieldList([]string{v.Field}, r)
		field := v.Field
		if len(fields) == 1 {
			field = fields[0]
		}
		// Multi-field views stay unresolved here so the builder rejects
		// them as the structural assertion §4.4 requires.
		return SameElement{Field: field, Children: resolveChildren(v.Children, r)}
	case And:
		return And{Children: resolveChildren(v.Children, r)}
	case Or:
		return Or{Children: resolveChildren(v.Children, r)}
	case AndNot:
		return AndNot{Children: resolveChildren(v.Children, r)}
	case Rank:
		return Rank{Children: resolveChildren(v.Children, r)}
	case Near:
		return Near{Children: resolveChildren(v.Children, r), Distance: v.Distance}
	case ONear:
		return ONear{Children: resolveChildren(v.Children, r), Distance: v.Distance}
	case WeakAnd:
		return WeakAnd{Children: resolveChildren(v.Children, r), TargetHits: v.TargetHits}
	case Equiv:
		return Equiv{Children: resolveChildren(v.Children, r)}
	default:
		return n
	}
}

func resolveChildren(children []Node, r FieldResolver) []Node {
	out := make([]Node, len(children))
	for i, c := range children {
		out[i] = ResolveViews(c, r)
	}
	return out
}

func resolveFieldList(fields []string, r FieldResolver) []string {
	var out []string
	for _, f := range fields {
		resolved := r.ResolveFields(f)
		if len(resolved) == 0 {
			out = append(out, f)
			continue
		}
		out = append(out, resolved...)
	}
	return out
}
