package resultproc

// GIDResolver resolves a local docid to its global document id, the
// document-meta store's contribution to reply assembly (§4.7, "Reply
// assembly: ... gid is resolved from lid via the document meta store").
type GIDResolver interface {
	ResolveGID(docID uint32) (gid string, ok bool)
}

// ReplyHit is one hit in the final SearchReply: a resolved gid plus its
// (first- or second-phase) score.
type ReplyHit struct {
	GID   string
	Score float64
}

// Coverage reports how much of the local corpus a query actually visited
// and why, if at all, the result is degraded (§6).
type Coverage struct {
	Active          int64
	TargetActive    int64
	Covered         float64
	DegradedReasons []string
}

// MatchFeatures carries the optional matchFeatures seeds' resolved values
// per docid (§3: "Ranking program ... matchFeatures (for docsum/summary)").
type MatchFeatures struct {
	Names  []string
	Values map[uint32][]float64
}

// SearchReply is the external-facing output of one query (§6).
type SearchReply struct {
	TotalHitCount uint64
	Hits          []ReplyHit
	SortIndex     []uint32 // cumulative byte offsets into SortData, one per hit
	SortData      []byte   // concatenated per-hit sort-data bytes
	GroupResult   []byte
	Coverage      Coverage
	MatchFeatures *MatchFeatures
}

// MakeReply windows the merged PartialResult to [offset, offset+maxHits),
// resolves gids, and concatenates sort data. Calling MakeReply on an
// already-merged PartialResult is idempotent: totalHitCount always equals
// partial.TotalHits, and len(hits) == min(maxHits, len(partial.Hits)-offset)
// (§8, "Round-trip / idempotence").
func MakeReply(pr *PartialResult, offset, maxHits int, gids GIDResolver) *SearchReply {
	reply := &SearchReply{TotalHitCount: pr.TotalHits}

	start := offset
	if start > len(pr.Hits) {
		start = len(pr.Hits)
	}
	end := start
	if maxHits > 0 {
		end = start + maxHits
		if end > len(pr.Hits) {
			end = len(pr.Hits)
		}
	}

	window := pr.Hits[start:end]
	reply.Hits = make([]ReplyHit, len(window))
	for i, h := range window {
		gid := ""
		if gids != nil {
			gid, _ = gids.ResolveGID(h.DocID)
		}
		reply.Hits[i] = ReplyHit{GID: gid, Score: h.Score}
	}

	if pr.SortData != nil {
		offsetBytes := uint32(0)
		for _, sd := range pr.SortData[start:end] {
			reply.SortData = append(reply.SortData, sd...)
			offsetBytes += uint32(len(sd))
			reply.SortIndex = append(reply.SortIndex, offsetBytes)
		}
	}

	return reply
}
