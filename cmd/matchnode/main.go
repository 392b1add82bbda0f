// Command matchnode is a minimal driver for the per-node query-matching
// core: it holds a small in-memory document set, builds a Matcher (C10)
// over it, and runs one query end to end through the full match loop
// (query plan → match threads → ranking → merged reply), printing the
// resulting SearchReply as JSON.
//
// The document store, attribute storage, and posting lists are out of
// scope for the matching core itself (spec.md §1 Non-goals) — matchnode's
// memIndex exists only to give query.Searchable something real to walk so
// the deliverable can be exercised end to end, not as a reimplementation
// of the indexer.
//
// Usage:
//
//	go run ./cmd/matchnode [-config path/to/config.yaml] [-field body] [-term fox] [-maxhits 10]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/distributed-search/matchcore/internal/matching/handles"
	"github.com/distributed-search/matchcore/internal/matching/matcher"
	"github.com/distributed-search/matchcore/internal/matching/query"
	"github.com/distributed-search/matchcore/internal/matching/querylimiter"
	"github.com/distributed-search/matchcore/internal/matching/thread"
	"github.com/distributed-search/matchcore/internal/matching/tools"
	"github.com/distributed-search/matchcore/pkg/config"
	"github.com/distributed-search/matchcore/pkg/logger"
	"github.com/distributed-search/matchcore/pkg/metrics"
)

// sampleCorpus is a tiny fixed document set, replicated across fields
// "title" and "body", used only to give matchnode something to search.
var sampleCorpus = []string{
	"the quick brown fox jumps over the lazy dog",
	"a quick fox and a quicker hare race across the field",
	"the lazy dog sleeps all afternoon in the warm sun",
	"search engines rank documents by relevance to a query",
	"the query matching core evaluates postings and ranks hits",
	"distributed search nodes merge partial results into one reply",
	"fox hunting was once common across the english countryside",
	"dogs and foxes are both members of the canid family",
	"ranking programs score each match in the first and second phase",
	"work stealing schedulers balance load across match threads",
}

// memIndex is a bare-bones in-memory posting store: one term->docids map
// per field, built by naively lowercasing and splitting sampleCorpus on
// whitespace. It implements query.Searchable.
type memIndex struct {
	postings map[string]map[string][]uint32 // field -> term -> docids
}

func newMemIndex(fields []string, docs []string) *memIndex {
	idx := &memIndex{postings: make(map[string]map[string][]uint32)}
	for _, field := range fields {
		terms := make(map[string][]uint32)
		for i, doc := range docs {
			docID := uint32(i + 1) // docid 0 is reserved
			for _, term := range strings.Fields(strings.ToLower(doc)) {
				terms[term] = append(terms[term], docID)
			}
		}
		idx.postings[field] = terms
	}
	return idx
}

func (idx *memIndex) IsAttribute(string) bool { return false }

func (idx *memIndex) Lookup(field, termText string) ([]uint32, error) {
	return idx.postings[field][strings.ToLower(termText)], nil
}

func (idx *memIndex) LookupIndex(fields []string, termText string) (map[string][]uint32, error) {
	term := strings.ToLower(termText)
	out := make(map[string][]uint32, len(fields))
	for _, field := range fields {
		out[field] = idx.postings[field][term]
	}
	return out, nil
}

// constantRank is the simplest possible first-phase ranking program: it
// scores every match by its docid so results come back in a stable,
// deterministic order. A real ranking setup (RankProgram) is out of scope
// for the matching core (spec.md §1 Non-goals) — matchnode only needs
// something that satisfies tools.RankSetup.
type constantRank struct{}

func (constantRank) SetupFirstPhase(_ *handles.Recorder, _ *handles.MatchData) (func(uint32) float64, []string) {
	return func(docID uint32) float64 { return float64(docID) }, nil
}
func (constantRank) HasSecondPhase() bool { return false }
func (constantRank) SetupSecondPhase(_ *handles.Recorder, _ *handles.MatchData) (func(uint32) float64, []string) {
	return nil, nil
}

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	field := flag.String("field", "body", "field to search")
	term := flag.String("term", "fox", "single term to search for")
	maxHits := flag.Int("maxhits", 10, "maximum hits to return")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting matchnode", "field", *field, "term", *term, "docs", len(sampleCorpus))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
		slog.Info("prometheus metrics enabled", "port", cfg.Metrics.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docIDLimit := uint32(len(sampleCorpus) + 1)
	idx := newMemIndex([]string{"title", "body"}, sampleCorpus)

	// The sample corpus carries no ordered attribute for the match-phase
	// limiter to range over, so Degradation/Diversity stay at their zero
	// value (disabled, §4.6's NoMatchPhaseLimiter path); a real deployment
	// wires mc.MatchPhase* into phaselimit.DegradationParams/DiversityParams
	// once an attribute-backed field exists to limit on.
	mc := cfg.Matching
	matcherCfg := matcher.Config{
		NumThreadsPerSearch:        mc.NumThreadsPerSearch,
		MinHitsPerThread:           mc.MinHitsPerThread,
		NumSearchPartitions:        mc.NumSearchPartitions,
		ArraySize:                  mc.HitCollectorArraySize,
		HeapSize:                   mc.HitCollectorHeapSize,
		RankDropMode:               thread.RankDropNone,
		SoftTimeoutEnabled:         mc.SoftTimeoutEnabled,
		SoftTimeoutFactor:          mc.SoftTimeoutFactor,
		SoftTimeoutFactorOverride:  mc.SoftTimeoutFactorOverride,
		SoftTimeoutBootstrapWindow: mc.SoftTimeoutBootstrapWindow,
	}

	mm := matcher.New(idx, nil, func(query.Node) tools.RankSetup { return constantRank{} }, matcherCfg, m)

	limiter := querylimiter.New()
	limiter.Configure(mc.QueryLimiterMaxThreads, mc.QueryLimiterCoverage, mc.QueryLimiterMinHits)
	mm.SetQueryLimiter(limiter)

	result, err := mm.Match(ctx, matcher.Request{
		Root:          query.Term{Fields: []string{*field}, TermText: *term},
		DocIDLimit:    docIDLimit,
		Offset:        0,
		MaxHits:       *maxHits,
		Strict:        true,
		NumActiveLids: int64(docIDLimit),
	})
	if err != nil {
		slog.Error("match failed", "error", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result.Reply, "", "  ")
	if err != nil {
		slog.Error("failed to encode reply", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	slog.Info("match complete",
		"total_hits", result.Reply.TotalHitCount,
		"soft_dooms", result.Stats.SoftDooms,
		"degraded", result.Coverage.DegradedReasons,
	)
}
