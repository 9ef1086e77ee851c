// Package chunk implements ChunkEngine: one bounded unit of list/screen/
// fetch/build/cluster/aggregate work per SPEC_FULL §4.H. Grounded on the
// teacher's gmail.Provider.ListMessages bounded-concurrency semaphore
// fan-out; there is no separate rate limiter, and deadline cascading is
// plain context.WithDeadline threaded through every stage.
package chunk

import (
	"context"
	"regexp"
	"strings"
	"time"

	"subscan/core/domain"
	"subscan/core/port/out"
	"subscan/core/service/aggregate"
	"subscan/core/service/candidate"
	"subscan/core/service/classify"
	"subscan/core/service/cluster"
	"subscan/core/service/merchant"
)

const deadlineSlack = 900 * time.Millisecond

// Stats summarizes one chunk run for the Session's lastStats field.
type Stats struct {
	EngineVersion string `json:"engineVersion"`
	Listed        int    `json:"listed"`
	Scanned       int    `json:"scanned"`
	ScreenedIn    int    `json:"screenedIn"`
	FullFetched   int    `json:"fullFetched"`
	RawMatched    int    `json:"rawMatched"`
	Matched       int    `json:"matched"`
	DeadlineMs    int64  `json:"deadlineMs"`
	TookMs        int64  `json:"tookMs"`
	Query         string `json:"query"`
	NullReasons   map[string]int `json:"nullReasons"`
}

// Result is what a chunk run hands back to the SessionOrchestrator.
type Result struct {
	Candidates []domain.Candidate
	NextCursor string
	Done       bool
	Stats      Stats
}

// Engine runs one chunk against a MailboxDriver.
type Engine struct {
	Driver   out.MailboxDriver
	Resolver *merchant.Resolver
}

func New(driver out.MailboxDriver, resolver *merchant.Resolver) *Engine {
	return &Engine{Driver: driver, Resolver: resolver}
}

// Run executes the full chunk pipeline for one Session's current cursor and
// Options, bounded by opts.ChunkMs minus the flush slack.
func (e *Engine) Run(ctx context.Context, conn *domain.OAuthConnection, opts domain.Options, overrides []domain.UserOverride) Result {
	chunkMs := opts.ChunkMs
	if chunkMs <= 0 {
		chunkMs = 9000
	}
	deadline := time.Now().Add(time.Duration(chunkMs) * time.Millisecond)
	stopAt := deadline.Add(-deadlineSlack)

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	stats := Stats{EngineVersion: "1", NullReasons: map[string]int{}}
	start := time.Now()

	// Stage 1: list.
	var ids []string
	cursor := ""
	if opts.Cursor != nil {
		cursor = *opts.Cursor
	}
	q := out.ListQuery{
		DaysBack:          opts.DaysBack,
		QueryMode:         opts.QueryMode,
		IncludePromotions: opts.IncludePromotions,
		PageSize:          opts.PageSize,
		Cursor:            cursor,
	}

	nextCursor := cursor
	done := false
	for len(ids) < opts.MaxListIds && time.Now().Before(stopAt) {
		page, err := e.Driver.ListPage(ctx, conn, q)
		if err != nil {
			break
		}
		ids = append(ids, page.IDs...)
		nextCursor = page.NextCursor
		done = page.Done
		q.Cursor = page.NextCursor
		if page.Done {
			break
		}
	}
	if len(ids) > opts.MaxListIds {
		ids = ids[:opts.MaxListIds]
	}
	stats.Listed = len(ids)

	// Stage 2: screen (metadata + quick-screen), bounded concurrency.
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 6
	}
	metas := e.fetchMetadataBatched(ctx, conn, ids, concurrency, stopAt)
	stats.Scanned = len(metas)

	var screenedIn []domain.MessageMeta
	for _, m := range metas {
		reason := classify.QuickScreen(m.Headers, m.Subject, m.Snippet, m.SenderDomain)
		if reason == classify.ScreenHardNo || reason == classify.ScreenMarketing {
			key := string(reason)
			if reason == classify.ScreenMarketing {
				key = "marketingHeavy"
			}
			stats.NullReasons[key]++
			continue
		}
		screenedIn = append(screenedIn, m)
	}
	stats.ScreenedIn = len(screenedIn)

	// Stage 3: full fetch capped.
	fullFetchCap := opts.FullFetchCap
	if fullFetchCap <= 0 {
		fullFetchCap = 25
	}
	toFetch := screenedIn
	if len(toFetch) > fullFetchCap {
		toFetch = toFetch[:fullFetchCap]
	}
	fullMessages := e.fetchBodiesBatched(ctx, conn, toFetch, concurrency, stopAt)
	stats.FullFetched = len(fullMessages)

	// TODO: candidates that land without an Amount never get a second,
	// targeted re-fetch of the top 25 to recover one; only the first full
	// fetch is consulted.
	// Stage 4: build candidates per message.
	var rawCandidates []domain.Candidate
	for _, nm := range fullMessages {
		if len(rawCandidates) >= opts.MaxCandidates {
			break
		}
		if !time.Now().Before(stopAt) {
			break
		}
		c, drop := candidate.Build(e.Resolver, candidate.Input{
			Message:          nm,
			CandidateDomains: nm.LinkDomains,
			Overrides:        overrides,
			Now:              time.Now(),
		})
		if drop != nil {
			stats.NullReasons[string(*drop)]++
			continue
		}
		rawCandidates = append(rawCandidates, *c)
	}
	stats.RawMatched = len(rawCandidates)

	// Stage 5: cluster over screened-in metadata.
	clusterCap := opts.ClusterCap
	clusterInput := screenedIn
	if clusterCap > 0 && len(clusterInput) > clusterCap {
		clusterInput = clusterInput[:clusterCap]
	}
	clusterCands := cluster.Build(clusterInput, func(m domain.MessageMeta) (string, bool, int) {
		res := e.Resolver.Resolve("", []string{m.SenderDomain}, m.SenderEmail, m.Subject+" "+m.Snippet, nil)
		if res.Canonical == "" && res.PrettyFallback == "" {
			return "", false, 0
		}
		return m.SenderDomain, false, res.Confidence
	})
	merged := append(rawCandidates, clusterCands...)

	// Stage 6: aggregate + dedupe, then strict gate.
	withinChunk := aggregate.WithinChunk(merged)
	acrossChunk := aggregate.AcrossChunk(withinChunk)
	final := aggregate.StrictGate(acrossChunk)
	stats.Matched = len(final)

	stats.DeadlineMs = int64(chunkMs)
	stats.TookMs = time.Since(start).Milliseconds()
	stats.Query = string(opts.QueryMode)

	return Result{
		Candidates: final,
		NextCursor: nextCursor,
		Done:       done,
		Stats:      stats,
	}
}

// fetchMetadataBatched splits ids into batchSize-sized pages and fetches
// them with the same bounded-concurrency/indexed-collection shape as
// fetchBodiesBatched, instead of one page at a time, so a slow metadata
// call doesn't serialize the whole listing against the chunk deadline.
func (e *Engine) fetchMetadataBatched(ctx context.Context, conn *domain.OAuthConnection, ids []string, concurrency int, stopAt time.Time) []domain.MessageMeta {
	const batchSize = 50
	type batchResult struct {
		index int
		metas []domain.MessageMeta
	}

	var batches [][]string
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[i:end])
	}
	if len(batches) == 0 {
		return nil
	}

	sem := make(chan struct{}, concurrency)
	results := make(chan batchResult, len(batches))
	for i, b := range batches {
		go func(idx int, batch []string) {
			sem <- struct{}{}
			defer func() { <-sem }()
			if !time.Now().Before(stopAt) {
				results <- batchResult{index: idx}
				return
			}
			metas, err := e.Driver.FetchMetadata(ctx, conn, batch)
			if err != nil {
				results <- batchResult{index: idx}
				return
			}
			results <- batchResult{index: idx, metas: metas}
		}(i, b)
	}

	collected := make([][]domain.MessageMeta, len(batches))
	for range batches {
		r := <-results
		collected[r.index] = r.metas
	}

	var out []domain.MessageMeta
	for _, m := range collected {
		out = append(out, m...)
	}
	return out
}

func (e *Engine) fetchBodiesBatched(ctx context.Context, conn *domain.OAuthConnection, metas []domain.MessageMeta, concurrency int, stopAt time.Time) []domain.NormalizedMessage {
	type result struct {
		index int
		msg   domain.NormalizedMessage
		ok    bool
	}

	sem := make(chan struct{}, concurrency)
	results := make(chan result, len(metas))

	for i, m := range metas {
		go func(idx int, meta domain.MessageMeta) {
			sem <- struct{}{}
			defer func() { <-sem }()

			if !time.Now().Before(stopAt) {
				results <- result{index: idx}
				return
			}
			body, err := e.Driver.FetchFull(ctx, conn, meta.ID)
			if err != nil {
				results <- result{index: idx}
				return
			}
			nm := domain.NormalizedMessage{
				Meta:        meta,
				Body:        body,
				LinkDomains: extractLinkDomains(body),
				Date:        time.UnixMilli(meta.DateMs),
			}
			results <- result{index: idx, msg: nm, ok: true}
		}(i, m)
	}

	collected := make([]domain.NormalizedMessage, len(metas))
	ok := make([]bool, len(metas))
	for range metas {
		r := <-results
		if r.ok {
			collected[r.index] = r.msg
			ok[r.index] = true
		}
	}

	out := make([]domain.NormalizedMessage, 0, len(metas))
	for i, m := range collected {
		if ok[i] {
			out = append(out, m)
		}
	}
	return out
}

const maxLinkDomains = 200

var urlRe = regexp.MustCompile(`(?i)https?://([a-z0-9.-]+\.[a-z]{2,})`)

// findURLDomains pulls bare hostnames out of http(s) links in a message part,
// lower-cased, in first-seen order.
func findURLDomains(src string) []string {
	if src == "" {
		return nil
	}
	matches := urlRe.FindAllStringSubmatch(src, -1)
	if matches == nil {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToLower(m[1]))
	}
	return out
}

func extractLinkDomains(body *domain.MessageBody) []string {
	if body == nil {
		return nil
	}
	seen := map[string]bool{}
	var domains []string
	for _, src := range []string{body.Text, body.HTML} {
		for _, d := range findURLDomains(src) {
			if !seen[d] {
				seen[d] = true
				domains = append(domains, d)
				if len(domains) >= maxLinkDomains {
					return domains
				}
			}
		}
	}
	return domains
}
