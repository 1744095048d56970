package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/csgtools/csgmeter/internal/config"
	"github.com/csgtools/csgmeter/internal/csg"
	"github.com/csgtools/csgmeter/internal/database"
	"github.com/csgtools/csgmeter/internal/metering"
	"github.com/csgtools/csgmeter/internal/scheduler"
)

// Command csgmeter collects electricity metering data from the China
// Southern Power Grid customer API.
//
// For every configured identity it authenticates (reusing a persisted
// session when one is still valid), enumerates the bound electricity
// accounts and keeps their balance, ladder status and usage series
// refreshed on a differentiated cadence. Readings can optionally be
// retained in PostgreSQL.
//
// Usage:
//
//	csgmeter [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
//	-force-login
//	      ignore persisted sessions and authenticate from scratch
//
// SIGHUP triggers an immediate refresh of every bucket; SIGINT and
// SIGTERM stop the collector gracefully.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	forceLogin := flag.Bool("force-login", false, "ignore persisted sessions and authenticate from scratch")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Logging)

	codec, err := csg.NewCodec(cfg.Vendor.AESKey, cfg.Vendor.AESIV, cfg.Vendor.RSAPublicKey)
	if err != nil {
		logger.Fatalf("Failed to build codec: %v", err)
	}

	var store scheduler.ReadingsStore
	if cfg.Database.Enabled {
		repo, err := database.NewPostgresRepo(cfg.Database.DSN())
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer repo.Close()
		store = repo
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var schedulers []*scheduler.Scheduler
	for _, identity := range cfg.Identities {
		s, err := startIdentity(ctx, cfg, identity, codec, store, registry, logger, *forceLogin)
		if err != nil {
			logger.Fatalf("Failed to start identity %q: %v", identity.AccountID, err)
		}
		schedulers = append(schedulers, s)
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Address, registry, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info("Received SIGHUP, forcing refresh of all buckets")
			for _, s := range schedulers {
				go s.ForceRefresh()
			}
			continue
		}
		logger.WithField("signal", sig.String()).Info("Shutting down")
		break
	}

	for _, s := range schedulers {
		s.Stop()
	}
	cancel()
	logger.Info("Collector stopped")
}

// startIdentity wires one identity end to end: client, session,
// account catalog, metering service and its scheduler.
func startIdentity(
	ctx context.Context,
	cfg *config.Config,
	identity config.IdentityConfig,
	codec *csg.Codec,
	store scheduler.ReadingsStore,
	registry prometheus.Registerer,
	logger *logrus.Logger,
	forceLogin bool,
) (*scheduler.Scheduler, error) {
	client, err := csg.NewClient(csg.ClientConfig{
		BaseURL:   cfg.Vendor.BaseURL,
		Channel:   csg.Channel(cfg.Vendor.Channel),
		AreaCode:  identity.AreaCode,
		Timeout:   cfg.Vendor.Timeout,
		RateLimit: cfg.Vendor.RateLimit,
		RateBurst: cfg.Vendor.RateBurst,
	}, codec, logger)
	if err != nil {
		return nil, err
	}

	if err := establishSession(ctx, client, identity, logger, forceLogin); err != nil {
		return nil, err
	}

	catalog, err := csg.NewCatalog(client, 128, logger)
	if err != nil {
		return nil, err
	}
	svc := metering.NewService(client, logger)

	name := identity.Name
	if name == "" {
		name = identity.AccountID
	}
	sched := scheduler.New(ctx, svc, catalog, store, scheduler.Config{
		PollInterval:  cfg.Scheduler.PollInterval,
		UpdateTimeout: cfg.Scheduler.UpdateTimeout,
		Recovery:      scheduler.AuthRecoveryManualOnly,
		Identity:      name,
	}, logger, registry)

	// The scheduler never re-authenticates on its own; the credential
	// lives here, so recovery is this callback's job.
	sched.SetOnSessionExpired(func() {
		log := logger.WithField("identity", name)
		log.Warn("Session expired, re-authenticating")
		if err := establishSession(ctx, client, identity, logger, true); err != nil {
			log.WithError(err).Error("Re-authentication failed; data stays stale until the next attempt")
		}
	})

	if err := sched.Start(); err != nil {
		return nil, err
	}
	return sched, nil
}

// establishSession restores a persisted session when possible and
// falls back to a fresh password login. The resulting session is
// written back to the identity's session file.
func establishSession(ctx context.Context, client *csg.Client, identity config.IdentityConfig, logger *logrus.Logger, forceLogin bool) error {
	log := logger.WithField("account_id", identity.AccountID)

	if !forceLogin && identity.SessionFile != "" {
		if data, err := os.ReadFile(identity.SessionFile); err == nil {
			if session, err := csg.LoadSession(data); err == nil {
				if err := client.RestoreSession(session); err == nil {
					ok, err := client.VerifyLogin(ctx)
					if err != nil {
						return fmt.Errorf("could not verify persisted session: %w", err)
					}
					if ok {
						log.Info("Reusing persisted session")
						return client.Initialize(ctx)
					}
					log.Info("Persisted session rejected by vendor, logging in")
					client.InvalidateSession()
				}
			}
		}
	}

	session, err := client.Authenticate(ctx, csg.Credential{
		AreaCode:  identity.AreaCode,
		AccountID: identity.AccountID,
		Password:  identity.Password,
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	log.Info("Authenticated")

	if identity.SessionFile != "" {
		if data, err := session.Dump(); err == nil {
			if err := os.WriteFile(identity.SessionFile, data, 0600); err != nil {
				log.WithError(err).Warn("Failed to persist session")
			}
		}
	}

	return client.Initialize(ctx)
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.WithField("address", addr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("Metrics server failed")
	}
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
