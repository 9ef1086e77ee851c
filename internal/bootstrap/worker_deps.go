// Package bootstrap wires the scan pipeline's concrete adapters into the
// core ports and exposes them as Dependencies, grounded on the teacher's
// own NewDependencies (one file building every adapter, passed into both
// NewAPI and NewWorker) narrowed to the ports this pipeline actually has.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"subscan/adapter/out/directory"
	"subscan/adapter/out/persistence"
	"subscan/adapter/out/provider/gmail"
	"subscan/adapter/out/provider/imap"
	"subscan/adapter/out/queue"
	"subscan/adapter/out/token"
	"subscan/config"
	"subscan/core/port/in"
	"subscan/core/port/out"
	"subscan/core/service/auth"
	"subscan/core/service/merchant"
	"subscan/core/service/scan"
	"subscan/core/service/session"
	"subscan/infra/database"
	"subscan/pkg/cache"
	"subscan/pkg/metrics"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// oauthCacheTTL bounds how stale a cached oauth_connections row can be
// before TokenProvider.Resolve re-reads Postgres.
const oauthCacheTTL = 10 * time.Second

// Dependencies is the fully-wired object graph shared by NewAPI and
// NewWorker.
type Dependencies struct {
	DB    *sqlx.DB
	Redis *redis.Client

	OAuthRepo out.OAuthRepository
	Overrides out.OverrideStore
	Store     out.Store
	Queue     *queue.RedisQueue

	OAuthService       in.OAuthService
	ScanService        in.ScanService
	MailboxScanService in.MailboxScanService
	Orchestrator       *session.Orchestrator

	WorkerID        string
	SSEPollInterval time.Duration
	SSEPingInterval time.Duration
}

// NewDependencies builds every adapter and wires it into its port, the same
// shape the teacher's NewDependencies follows: one place that owns
// construction order, returned alongside a cleanup func the caller defers.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	metrics.RegisterPool("postgres", db.DB)

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	cleanup := func() {
		redisClient.Close()
		db.Close()
	}

	store := persistence.NewStore(db)
	overrideStore := persistence.NewOverrideStore(db)
	// ListByUser backs TokenProvider.Resolve, called once per chunk job;
	// cache it briefly so a long scan doesn't hammer oauth_connections.
	oauthRepo := persistence.NewCachedOAuthRepository(
		persistence.NewOAuthAdapter(db), cache.NewRedisCache(redisClient), oauthCacheTTL)

	redisQueue := queue.NewRedisQueue(redisClient, "scan-workers", cfg.ConsumerPendingIdleSec)
	if err := redisQueue.EnsureGroup(context.Background()); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ensure queue consumer group: %w", err)
	}

	dir := directory.NewStatic()
	resolver := merchant.New(dir, overrideStore)

	gmailOAuthCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/gmail.readonly",
			"https://www.googleapis.com/auth/userinfo.email",
		},
		Endpoint: google.Endpoint,
	}
	gmailDriver := gmail.NewDriver(gmailOAuthCfg)

	// imapNewer builds a fresh IMAP driver per request/session target
	// host:port, since (unlike Gmail) the durable session flow's one fixed
	// Driver instance doesn't fit a provider where every mailbox lives on a
	// different server.
	imapNewer := func(host string, port int, insecure bool) out.MailboxDriver {
		return imap.NewDriver(host, port, insecure)
	}
	defaultIMAPDriver := imap.NewDriver("", cfg.IMAPDefaultPort, false)

	tokenProvider := token.NewProvider(oauthRepo)
	oauthService := auth.NewOAuthService(oauthRepo, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)

	orchestrator := session.New(store, redisQueue, tokenProvider, gmailDriver, defaultIMAPDriver,
		resolver, overrideStore, cfg.WorkerID)

	mailboxScan := scan.New(gmailDriver, imapNewer, resolver, overrideStore)

	return &Dependencies{
		DB:    db,
		Redis: redisClient,

		OAuthRepo: oauthRepo,
		Overrides: overrideStore,
		Store:     store,
		Queue:     redisQueue,

		OAuthService:       oauthService,
		ScanService:        orchestrator,
		MailboxScanService: mailboxScan,
		Orchestrator:       orchestrator,

		WorkerID:        cfg.WorkerID,
		SSEPollInterval: time.Duration(cfg.SSEPollIntervalMS) * time.Millisecond,
		SSEPingInterval: time.Duration(cfg.SSEPingIntervalSec) * time.Second,
	}, cleanup, nil
}
