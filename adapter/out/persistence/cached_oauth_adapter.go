package persistence

import (
	"context"
	"fmt"
	"time"

	"subscan/core/port/out"
	"subscan/pkg/cache"
)

// CachedOAuthRepository wraps an OAuthAdapter with a short Redis cache over
// ListByUser, the one read every chunk's TokenProvider.Resolve call makes
// (core/service/session.Orchestrator.Run dereferences a connection once per
// chunk job, so an active session can hit this dozens of times a minute).
// Grounded verbatim on the teacher's CachedContactAdapter decorator shape
// (adapter/out/persistence/worker_contact_cache.go): GetJSON-then-fallback
// on read, cache invalidation on every mutating call.
type CachedOAuthRepository struct {
	delegate out.OAuthRepository
	cache    *cache.RedisCache
	ttl      time.Duration
}

// NewCachedOAuthRepository wraps delegate with redisCache, caching
// ListByUser results for ttl.
func NewCachedOAuthRepository(delegate out.OAuthRepository, redisCache *cache.RedisCache, ttl time.Duration) *CachedOAuthRepository {
	return &CachedOAuthRepository{delegate: delegate, cache: redisCache, ttl: ttl}
}

func oauthListCacheKey(userID string) string {
	return fmt.Sprintf("oauth:list:%s", userID)
}

func (a *CachedOAuthRepository) invalidate(ctx context.Context, userID string) {
	_ = a.cache.Delete(ctx, oauthListCacheKey(userID))
}

func (a *CachedOAuthRepository) ListByUser(ctx context.Context, userID string) ([]*out.OAuthConnectionEntity, error) {
	key := oauthListCacheKey(userID)

	var cached []*out.OAuthConnectionEntity
	if found, err := a.cache.GetJSON(ctx, key, &cached); err == nil && found {
		return cached, nil
	}

	entities, err := a.delegate.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	_ = a.cache.SetJSON(ctx, key, entities, a.ttl)
	return entities, nil
}

func (a *CachedOAuthRepository) ListAllActive(ctx context.Context) ([]*out.OAuthConnectionEntity, error) {
	return a.delegate.ListAllActive(ctx)
}

func (a *CachedOAuthRepository) GetByID(ctx context.Context, id int64) (*out.OAuthConnectionEntity, error) {
	return a.delegate.GetByID(ctx, id)
}

func (a *CachedOAuthRepository) GetByEmail(ctx context.Context, userID, provider, email string) (*out.OAuthConnectionEntity, error) {
	return a.delegate.GetByEmail(ctx, userID, provider, email)
}

func (a *CachedOAuthRepository) GetByEmailOnly(ctx context.Context, email, provider string) (*out.OAuthConnectionEntity, error) {
	return a.delegate.GetByEmailOnly(ctx, email, provider)
}

func (a *CachedOAuthRepository) GetByWebhookID(ctx context.Context, subscriptionID, provider string) (*out.OAuthConnectionEntity, error) {
	return a.delegate.GetByWebhookID(ctx, subscriptionID, provider)
}

func (a *CachedOAuthRepository) Create(ctx context.Context, entity *out.OAuthConnectionEntity) error {
	if err := a.delegate.Create(ctx, entity); err != nil {
		return err
	}
	a.invalidate(ctx, entity.UserID)
	return nil
}

func (a *CachedOAuthRepository) Update(ctx context.Context, entity *out.OAuthConnectionEntity) error {
	if err := a.delegate.Update(ctx, entity); err != nil {
		return err
	}
	a.invalidate(ctx, entity.UserID)
	return nil
}

func (a *CachedOAuthRepository) Disconnect(ctx context.Context, id int64) error {
	entity, err := a.delegate.GetByID(ctx, id)
	if err != nil {
		return a.delegate.Disconnect(ctx, id)
	}
	if err := a.delegate.Disconnect(ctx, id); err != nil {
		return err
	}
	a.invalidate(ctx, entity.UserID)
	return nil
}

func (a *CachedOAuthRepository) Delete(ctx context.Context, id int64) error {
	entity, err := a.delegate.GetByID(ctx, id)
	if err != nil {
		return a.delegate.Delete(ctx, id)
	}
	if err := a.delegate.Delete(ctx, id); err != nil {
		return err
	}
	a.invalidate(ctx, entity.UserID)
	return nil
}

func (a *CachedOAuthRepository) SetDefault(ctx context.Context, id int64, isDefault bool) error {
	return a.delegate.SetDefault(ctx, id, isDefault)
}

var _ out.OAuthRepository = (*CachedOAuthRepository)(nil)
