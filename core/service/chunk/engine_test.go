package chunk

import (
	"context"
	"testing"

	"subscan/core/domain"
	"subscan/core/port/out"
	"subscan/core/service/merchant"
)

// fakeDriver serves one fixed page of ids and canned metadata/bodies keyed by id.
type fakeDriver struct {
	ids   []string
	metas map[string]domain.MessageMeta
	docs  map[string]*domain.MessageBody
}

func (d *fakeDriver) ListPage(ctx context.Context, conn *domain.OAuthConnection, q out.ListQuery) (out.ListPageResult, error) {
	return out.ListPageResult{IDs: d.ids, NextCursor: "", Done: true}, nil
}

func (d *fakeDriver) FetchMetadata(ctx context.Context, conn *domain.OAuthConnection, ids []string) ([]domain.MessageMeta, error) {
	metas := make([]domain.MessageMeta, 0, len(ids))
	for _, id := range ids {
		if m, ok := d.metas[id]; ok {
			metas = append(metas, m)
		}
	}
	return metas, nil
}

func (d *fakeDriver) FetchFull(ctx context.Context, conn *domain.OAuthConnection, id string) (*domain.MessageBody, error) {
	return d.docs[id], nil
}

func newTestEngine() (*Engine, *fakeDriver) {
	driver := &fakeDriver{
		ids: []string{"receipt-1", "promo-1"},
		metas: map[string]domain.MessageMeta{
			"receipt-1": {
				ID:           "receipt-1",
				SenderEmail:  "billing@netflix.com",
				SenderDomain: "netflix.com",
				Subject:      "Your Netflix payment receipt",
				Snippet:      "Payment successful, we charged your card $15.49",
				DateMs:       1,
			},
			"promo-1": {
				ID:           "promo-1",
				SenderEmail:  "promo@deals.example.com",
				SenderDomain: "deals.example.com",
				Subject:      "50% off everything this week",
				Snippet:      "Special offer, don't miss out on our sale",
				Headers:      domain.Headers{Precedence: "bulk", ListID: "<deals.example.com>"},
				DateMs:       2,
			},
		},
		docs: map[string]*domain.MessageBody{
			"receipt-1": {Text: "Your subscription renews on the 5th of each month. Amount due: $15.49."},
		},
	}
	resolver := merchant.New(nil, nil)
	return New(driver, resolver), driver
}

func TestEngineRunProducesCandidateFromTransactionalMessageAndScreensOutMarketing(t *testing.T) {
	engine, _ := newTestEngine()
	opts := domain.Options{
		DaysBack:      30,
		PageSize:      10,
		ChunkMs:       5000,
		FullFetchCap:  10,
		Concurrency:   4,
		MaxListIds:    10,
		MaxCandidates: 10,
		ClusterCap:    10,
		QueryMode:     domain.QueryTransactions,
	}

	result := engine.Run(context.Background(), &domain.OAuthConnection{}, opts, nil)

	if result.Stats.Listed != 2 {
		t.Errorf("listed = %d, want 2", result.Stats.Listed)
	}
	if result.Stats.ScreenedIn != 1 {
		t.Errorf("screenedIn = %d, want 1 (the marketing message should be screened out)", result.Stats.ScreenedIn)
	}
	if result.Stats.NullReasons["marketingHeavy"] < 1 {
		t.Errorf("nullReasons[marketingHeavy] = %d, want at least 1", result.Stats.NullReasons["marketingHeavy"])
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected exactly one surviving candidate, got %d", len(result.Candidates))
	}
	if result.Candidates[0].Merchant == "" {
		t.Error("expected the surviving candidate to have a resolved merchant")
	}
	if !result.Done {
		t.Error("expected Done to be true once the fake driver's single page is exhausted")
	}
}

func TestEngineRunRespectsMaxListIds(t *testing.T) {
	engine, driver := newTestEngine()
	driver.ids = []string{"receipt-1", "promo-1"}
	opts := domain.Options{
		DaysBack:      30,
		PageSize:      10,
		ChunkMs:       5000,
		FullFetchCap:  10,
		Concurrency:   4,
		MaxListIds:    1,
		MaxCandidates: 10,
		ClusterCap:    10,
		QueryMode:     domain.QueryTransactions,
	}

	result := engine.Run(context.Background(), &domain.OAuthConnection{}, opts, nil)
	if result.Stats.Listed != 1 {
		t.Errorf("listed = %d, want 1 (MaxListIds should cap the ids collected)", result.Stats.Listed)
	}
}

func TestEngineRunReturnsEmptyResultWhenNoMessagesListed(t *testing.T) {
	driver := &fakeDriver{metas: map[string]domain.MessageMeta{}, docs: map[string]*domain.MessageBody{}}
	resolver := merchant.New(nil, nil)
	engine := New(driver, resolver)

	opts := domain.Options{
		DaysBack:      30,
		PageSize:      10,
		ChunkMs:       5000,
		FullFetchCap:  10,
		Concurrency:   4,
		MaxListIds:    10,
		MaxCandidates: 10,
		ClusterCap:    10,
	}
	result := engine.Run(context.Background(), &domain.OAuthConnection{}, opts, nil)
	if len(result.Candidates) != 0 {
		t.Errorf("expected no candidates from an empty mailbox, got %d", len(result.Candidates))
	}
	if !result.Done {
		t.Error("expected Done to be true when ListPage returns an empty, exhausted page")
	}
}
