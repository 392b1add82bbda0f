package matcher

import (
	"sort"
	"time"

	"github.com/distributed-search/matchcore/internal/matching/query"
	"github.com/distributed-search/matchcore/internal/matching/resultproc"
	"github.com/distributed-search/matchcore/internal/matching/tools"
	apperrors "github.com/distributed-search/matchcore/pkg/errors"
)

// DocsumRequest is the input to GetSummaryFeatures / GetRankFeatures /
// GetMatchingElements (§4.10, §6 "DocsumRequest"): a fixed list of
// {docid} hits to re-score, optionally against a cached search session
// rather than a freshly parsed query.
type DocsumRequest struct {
	SessionID string
	DocIDs    []uint32

	// Root and DocIDLimit are used to build a fresh MatchToolsFactory when
	// SessionID is empty or the session has expired/is absent — "builds a
	// fresh one with a stub document-meta store" (§4.10).
	Root       query.Node
	DocIDLimit uint32
}

// resolveFactory returns the MatchToolsFactory to re-run matching with:
// the cached session's if SessionID hits, else a freshly built one.
func (m *Matcher) resolveFactory(req DocsumRequest) (*tools.Factory, []uint32, error) {
	if req.SessionID != "" && m.sessions != nil {
		if s, err := m.sessions.PickSearch(req.SessionID, time.Now()); err == nil {
			docIDs := req.DocIDs
			if len(docIDs) == 0 {
				docIDs = s.DocIDs
			}
			return s.Factory, docIDs, nil
		}
	}

	builder := query.NewBuilder(m.searchable, req.DocIDLimit, nil)
	root, err := builder.Build(m.prepareAST(req.Root))
	if err != nil {
		return nil, nil, apperrors.Newf(apperrors.ErrQueryBuildFailed, 0, "building query plan: %v", err)
	}
	root.SetDocIDLimit(req.DocIDLimit)
	root = query.Optimize(root, req.DocIDLimit)
	root.Freeze()
	if err := root.FetchPostings(true); err != nil {
		return nil, nil, apperrors.Newf(apperrors.ErrQueryBuildFailed, 0, "fetching postings: %v", err)
	}

	factory := tools.New(root, builder.Handles().NumHandles(), m.rankFactory(req.Root), nil, req.DocIDLimit)
	return factory, req.DocIDs, nil
}

// extractFeatures re-runs the first-phase (or, if useSecondPhase, the
// second-phase) ranking program over exactly the requested docids,
// producing one score per docid the way matchFeatures/summaryFeatures/
// dumpFeatures seeds would (§3 "Ranking program").
func extractFeatures(factory *tools.Factory, docIDs []uint32, useSecondPhase bool) *resultproc.MatchFeatures {
	var mt *tools.MatchTools
	name := "firstPhase"
	if useSecondPhase {
		mt = factory.CreateSecondPhase(true)
		name = "secondPhase"
	} else {
		mt = factory.CreateFirstPhase(true)
	}
	if mt == nil {
		return &resultproc.MatchFeatures{Names: []string{name}, Values: map[uint32][]float64{}}
	}
	mt.Iterator.InitRange(1, factory.DocIDLimit())

	values := make(map[uint32][]float64, len(docIDs))
	for _, d := range sortedDocIDs(docIDs) {
		got := mt.Iterator.Seek(d)
		if got != d {
			continue
		}
		mt.Iterator.Unpack(d)
		values[d] = []float64{mt.Score(d)}
	}
	return &resultproc.MatchFeatures{Names: []string{name}, Values: values}
}

// sortedDocIDs returns docIDs in ascending order; docsum requests carry
// hits in relevance order, but a fresh iterator only moves forward.
func sortedDocIDs(docIDs []uint32) []uint32 {
	out := append([]uint32{}, docIDs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetSummaryFeatures implements §4.10's summary-feature extraction path:
// reuse (or rebuild) the query's MatchToolsFactory and extract the
// first-phase program's value for each requested docid.
func (m *Matcher) GetSummaryFeatures(req DocsumRequest) (*resultproc.MatchFeatures, error) {
	factory, docIDs, err := m.resolveFactory(req)
	if err != nil {
		return nil, err
	}
	if task := factory.Tasks().OnSummary; task != nil {
		task.Run(docIDs)
	}
	return extractFeatures(factory, docIDs, false), nil
}

// GetRankFeatures extracts the second-phase program's value for each
// requested docid, falling back to first-phase if no second phase is
// configured for this ranking profile.
func (m *Matcher) GetRankFeatures(req DocsumRequest) (*resultproc.MatchFeatures, error) {
	factory, docIDs, err := m.resolveFactory(req)
	if err != nil {
		return nil, err
	}
	if factory.CreateSecondPhase(true) == nil {
		return extractFeatures(factory, docIDs, false), nil
	}
	return extractFeatures(factory, docIDs, true), nil
}

// MatchingElements is one requested docid that the query matches, with
// the term-field handles the first-phase ranking program registered as
// needed. Elements is the same set for every docid; it does not record
// which of those handles matched that particular document.
type MatchingElements struct {
	DocID    uint32
	Elements []uint32
}

// GetMatchingElements re-runs the first-phase iterator over the requested
// docids and returns one entry per docid the query matches, each listing
// the handles tagged as needed in the first-phase MatchData. Requested
// docids the query does not match are left out.
func (m *Matcher) GetMatchingElements(req DocsumRequest) ([]MatchingElements, error) {
	factory, docIDs, err := m.resolveFactory(req)
	if err != nil {
		return nil, err
	}

	mt := factory.CreateFirstPhase(true)
	if mt == nil {
		return nil, nil
	}
	mt.Iterator.InitRange(1, factory.DocIDLimit())

	needed := make([]uint32, 0, len(mt.MatchData.Tags))
	for h, tag := range mt.MatchData.Tags {
		if tag.Needed {
			needed = append(needed, uint32(h))
		}
	}

	out := make([]MatchingElements, 0, len(docIDs))
	for _, d := range sortedDocIDs(docIDs) {
		got := mt.Iterator.Seek(d)
		if got != d {
			continue
		}
		mt.Iterator.Unpack(d)
		out = append(out, MatchingElements{DocID: d, Elements: needed})
	}
	return out, nil
}
