package query

// Searchable is the external collaborator the builder consults to turn a
// leaf term into postings: either an attribute or an index field source.
// The matching core takes no position on what backs it — a real deployment
// wires it to a posting store; cmd/matchnode wires it to an in-memory one.
type Searchable interface {
	// IsAttribute reports whether field is attribute-backed (as opposed
	// to index-backed); this drives the attribute/index mixing rule in
	// §4.4.
	IsAttribute(field string) bool
	// Lookup resolves termText on a single attribute-backed field to a
	// sorted slice of local document ids. Returning (nil, nil) is a
	// valid "no postings" empty result.
	Lookup(field, termText string) ([]uint32, error)
	// LookupIndex resolves termText across a term's whole group of
	// index-backed fields in one call, returning the postings per field
	// (§4.4: "ask the index searchable once per group"). A field with no
	// postings may be absent from the result map.
	LookupIndex(fields []string, termText string) (map[string][]uint32, error)
}

// FieldResolver maps a view name to the set of concrete fields it
// expands to, mirroring the matcher's schema-derived ViewResolver
// (§4.10).
type FieldResolver interface {
	ResolveFields(view string) []string
}
