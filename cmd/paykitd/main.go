// Command paykitd runs the entitlement service: the checkout and webhook
// HTTP surface plus the periodic expiration sweep.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/sirupsen/logrus"

	authgin "github.com/open-rails/paykit/adapters/gin"
	"github.com/open-rails/paykit/adapters/ginutil"
	"github.com/open-rails/paykit/audit"
	"github.com/open-rails/paykit/billing"
	"github.com/open-rails/paykit/core"
	"github.com/open-rails/paykit/entitlements"
	"github.com/open-rails/paykit/keycloak"
	migrations "github.com/open-rails/paykit/migrations/postgres"
	"github.com/open-rails/paykit/notify"
	oidckit "github.com/open-rails/paykit/oidc"
	memorylimiter "github.com/open-rails/paykit/ratelimit/memory"
	redislimiter "github.com/open-rails/paykit/ratelimit/redis"
	memorystore "github.com/open-rails/paykit/storage/memory"
	redisstore "github.com/open-rails/paykit/storage/redis"
	"github.com/open-rails/paykit/sweep"
	"github.com/open-rails/paykit/webhook"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := core.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("startup aborted")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kc := keycloak.New(keycloak.Config{
		BaseURL:      cfg.KeycloakURL,
		Realm:        cfg.KeycloakRealm,
		ClientID:     cfg.KeycloakClientID,
		ClientSecret: cfg.KeycloakClientSecret,
		Timeout:      cfg.ExternalTimeout,
	}, log)

	var pool *pgxpool.Pool
	var auditor entitlements.Auditor
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("postgres pool")
		}
		defer pool.Close()
		if err := migrations.Run(ctx, pool); err != nil {
			log.WithError(err).Fatal("database migrations")
		}
		auditor = audit.NewStore(pool, "billing")
	}

	synchronizer := entitlements.NewSynchronizer(kc, auditor, log)

	catalog := billing.NewCatalog(cfg.PriceIDs)
	checkout := billing.NewCheckoutClient(cfg.StripeSecretKey, catalog, cfg.SuccessURL, cfg.CancelURL)
	svc := core.NewService(catalog, checkout, kc, cfg.ExternalTimeout, log)

	var sender notify.Sender = notify.LogSender{Log: log}
	if cfg.SMTPHost != "" {
		sender = &notify.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}
	}
	var riverClient *river.Client[pgx.Tx]
	if pool != nil {
		var err error
		riverClient, err = notify.NewRiverClient(pool, sender, log)
		if err != nil {
			log.WithError(err).Fatal("notification queue")
		}
		if err := riverClient.Start(ctx); err != nil {
			log.WithError(err).Fatal("notification queue start")
		}
		sender = notify.NewQueuedSender(riverClient)
	}

	var eventCache webhook.EventCache
	var limiter ginutil.RateLimiter
	checkoutLimits := map[string]memorylimiter.Limit{
		ginutil.RLCheckout: {Limit: 10, Window: time.Minute},
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		eventCache = redisstore.NewEventCache(rdb, "", 0)
		limiter = redislimiter.New(rdb, map[string]redislimiter.Limit{
			ginutil.RLCheckout: {Limit: 10, Window: time.Minute},
		})
	} else {
		eventCache = memorystore.NewEventCache(0)
		limiter = memorylimiter.New(checkoutLimits)
	}

	processor := webhook.NewProcessor(webhook.Config{
		SigningSecret: cfg.StripeWebhookSecret,
		RenewalWindow: cfg.RenewalWindow,
		Timeout:       cfg.ExternalTimeout,
		Synchronizer:  synchronizer,
		Cache:         eventCache,
		Contacts:      kc,
		Notifier:      sender,
		Log:           log,
	})

	sweeper := sweep.New(kc, synchronizer, cfg.SweepInterval, cfg.ExternalTimeout, log)
	if err := sweeper.Start(); err != nil {
		log.WithError(err).Fatal("sweep start")
	}

	deps := authgin.Deps{
		Service:   svc,
		Processor: processor,
		Records:   kc,
		Limiter:   limiter,
	}
	issuer := cfg.KeycloakURL + "/realms/" + cfg.KeycloakRealm
	if verifier, err := oidckit.NewTokenVerifier(ctx, issuer, 30*time.Second); err != nil {
		log.WithError(err).Warn("token verifier unavailable, /me/entitlement disabled")
	} else {
		deps.Verifier = verifier
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	authgin.RegisterAPI(r, deps)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("sweep shutdown")
	}
	if riverClient != nil {
		if err := riverClient.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("notification queue shutdown")
		}
	}
}
