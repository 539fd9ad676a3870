// Command server runs the group-order backend: the webhook ingest API, the
// order store, the browser-session pool, and the cart automation executor,
// all in one process.
//
// Startup order matters: configuration and logging first, then the database,
// then the browser sessions (the executor refuses to start without at least
// one), then the background loops, and the HTTP server last so the webhook
// never accepts traffic the pipeline cannot process. Shutdown runs in
// reverse with a bounded grace period.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/adiouf/go-cart-backend/internal/automation"
	"github.com/adiouf/go-cart-backend/internal/config"
	"github.com/adiouf/go-cart-backend/internal/extract"
	httpapi "github.com/adiouf/go-cart-backend/internal/http"
	"github.com/adiouf/go-cart-backend/internal/notify"
	"github.com/adiouf/go-cart-backend/internal/observability"
	"github.com/adiouf/go-cart-backend/internal/recap"
	"github.com/adiouf/go-cart-backend/internal/repo"
	"github.com/adiouf/go-cart-backend/internal/services"
	"github.com/adiouf/go-cart-backend/internal/session"
	"github.com/adiouf/go-cart-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", "go-cart-backend").Logger()
	logger.Info().Str("version", version).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Error().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("database migration failed")
	}

	notifier := &notify.LogNotifier{
		Log:     logger.With().Str("component", "notify").Logger(),
		AdminID: cfg.AdminID,
	}

	orderRepo, userRepo, receiptRepo := httpapi.Shims()

	orderSvc := services.NewOrderService(db, orderRepo, notifier,
		logger.With().Str("component", "orders").Logger(),
		services.OrderServiceOpts{
			MaxItemsPerUser: cfg.Orders.MaxItemsPerUser,
			MaxItemsPerDay:  cfg.Orders.MaxItemsPerDay,
			MaxRetries:      cfg.Orders.MaxRetries,
			DedupWindow:     cfg.Orders.DedupWindow,
			BackoffBase:     cfg.Orders.BackoffBase,
			BackoffMax:      cfg.Orders.BackoffMax,
		})

	var completer extract.Completer
	if cfg.Extract.APIKey != "" {
		completer = extract.NewOpenAIClient(
			cfg.Extract.APIKey, cfg.Extract.BaseURL, cfg.Extract.Model,
			cfg.Extract.Temperature, cfg.Extract.MaxTokens, cfg.Extract.Timeout,
		)
	} else {
		logger.Warn().Msg("no language-model key configured, extraction is regex-only")
	}
	extractor := &extract.Extractor{Model: completer}

	aggregator := &recap.Aggregator{
		DB:  db,
		Log: logger.With().Str("component", "recap").Logger(),
	}

	ingestSvc := &services.IngestService{
		DB:         db,
		Users:      userRepo,
		Receipts:   receiptRepo,
		Orders:     orderSvc,
		Extractor:  extractor,
		Recap:      aggregator,
		Log:        logger.With().Str("component", "ingest").Logger(),
		ReceiptTTL: cfg.ReceiptTTL,
	}

	sessions := session.NewManager(session.Config{
		Count:        cfg.Automation.SessionCount,
		CookiesDir:   cfg.Automation.CookiesDir,
		BaseURL:      cfg.Automation.BaseURL,
		ProbeURL:     cfg.Automation.CartURL,
		LoginURL:     cfg.Automation.LoginURL,
		Headless:     cfg.Automation.Headless,
		NoSandbox:    cfg.Automation.NoSandbox,
		ProbeTimeout: cfg.Automation.PageLoadTimeout,
		JarMaxAge:    cfg.Automation.SessionTTL,
	}, logger.With().Str("component", "session").Logger(), notifier)
	if err := sessions.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("browser session pool failed to start")
	}
	defer sessions.Close()

	executor := &automation.Executor{
		Orders:   orderSvc,
		Sessions: sessions,
		Driver: &automation.ChromeDriver{
			PageTimeout: cfg.Automation.PageLoadTimeout,
		},
		Log:            logger.With().Str("component", "executor").Logger(),
		PollInterval:   cfg.Automation.PollInterval,
		RateDelay:      2 * time.Second,
		AttemptTimeout: cfg.Automation.BrowserTimeout,
	}
	go executor.Run(ctx)

	go receiptJanitor(ctx, db, logger)

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, httpapi.Deps{
		Ingest: ingestSvc,
		Orders: orderSvc,
		Recap:  aggregator,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
}

// receiptJanitor purges expired inbound receipts hourly so the dedup table
// stays bounded.
func receiptJanitor(ctx context.Context, db *gorm.DB, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeExpiredReceipts(ctx, db, time.Now())
			if err != nil {
				logger.Error().Err(err).Msg("receipt purge failed")
				continue
			}
			if n > 0 {
				logger.Debug().Int64("count", n).Msg("expired receipts purged")
			}
		}
	}
}
