package bootstrap

import (
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog"

	httpadapter "subscan/adapter/in/http"
	"subscan/adapter/out/persistence"
	"subscan/config"
	"subscan/infra/middleware"
	"subscan/pkg/logger"
)

// NewAPI builds the Fiber app: global middleware stack, then a versioned
// /v1 group behind JWT auth. Grounded on the teacher's NewAPI construction
// (fiber.Config perf knobs, middleware order, per-feature handler
// Register(router) convention), narrowed to the scan-pipeline's own handler
// set.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{Level: logLevel, Service: "subscan-api"})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to initialize dependencies")
		return nil, nil, err
	}

	middleware.InitTokenBlacklist(deps.Redis)
	middleware.InitAuditLogger(deps.Redis)

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:   10 * 1024 * 1024,
		Concurrency: 256 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,

		StreamRequestBody:            true,
		DisablePreParseMultipartForm: true,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.PreventPathTraversal())
	app.Use(middleware.InputSanitizer())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(middleware.ETag())

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	healthHandler := httpadapter.NewHealthHandlerWithDeps(deps.DB, deps.Redis)
	healthHandler.Register(app)

	oauthStateStore := persistence.NewRedisOAuthStateStore(deps.Redis)
	oauthHandler := httpadapter.NewOAuthHandler(deps.OAuthService, oauthStateStore)
	oauthHandler.RegisterPublic(app)

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	sseHandler := httpadapter.NewSSEHandler(deps.ScanService, zlog, deps.SSEPollInterval, deps.SSEPingInterval)

	api := app.Group("/v1")

	rateLimiter := middleware.NewAdvancedRateLimiter(middleware.DefaultRateLimitConfig())
	api.Use(rateLimiter.Handler())
	api.Use(middleware.JWTAuth(cfg.JWTSecret))
	api.Use(middleware.AuditMiddleware())

	oauthHandler.Register(api)
	sseHandler.Register(api)

	scanHandler := httpadapter.NewScanHandler(deps.ScanService, deps.OAuthRepo, deps.Overrides)
	scanHandler.Register(api)

	mailboxScanHandler := httpadapter.NewMailboxScanHandler(deps.MailboxScanService)
	mailboxScanHandler.Register(api)

	logger.Info("api server initialized")
	return app, cleanup, nil
}
