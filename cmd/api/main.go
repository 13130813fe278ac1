package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/beneficiary"
	"disbursa.org/internal/billing"
	"disbursa.org/internal/config"
	"disbursa.org/internal/disbursement"
	"disbursa.org/internal/httpapi"
	"disbursa.org/internal/identity"
	"disbursa.org/internal/obs"
	"disbursa.org/internal/org"
	"disbursa.org/internal/screening"
	"disbursa.org/internal/store"
	"disbursa.org/internal/store/memstore"
	"disbursa.org/internal/store/pg"
	"disbursa.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	logger := obs.Configure(os.Stdout, cfg.Logging.Level, cfg.Logging.Format, version)

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api stopped with error")
	}
	logger.Info().Msg("stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Storage: Postgres when a DSN is configured, memory otherwise.
	var (
		st    store.Store
		ready = httpapi.ReadyProbe{}
	)
	if cfg.Postgres.DSN != "" {
		pgStore, err := pg.Open(cfg.Postgres)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		if cfg.Postgres.AutoMigrate {
			if err := pg.MigrateUp(ctx, pgStore.DB()); err != nil {
				return err
			}
			logger.Info().Msg("migrations applied")
		}
		st, ready = pgStore, httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		logger.Warn().Msg("no postgres dsn configured, using in-memory store")
		st = memstore.New()
	}

	events := stream.New()
	var publisher stream.Publisher = events
	if cfg.NATS.URL != "" {
		sink, err := stream.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer sink.Close()
		publisher = stream.Multi(events, sink)
		logger.Info().Str("url", cfg.NATS.URL).Msg("publishing events to nats")
	}

	secret := cfg.Auth.Secret
	verifier := auth.UnavailableVerifier
	if cfg.Auth.DevSignatures {
		logger.Warn().Msg("development signature verifier enabled")
		verifier = auth.DevVerifier
		if secret == "" {
			secret = randomSecret()
			logger.Warn().Msg("no auth secret configured, using an ephemeral one")
		}
	}
	tokens, err := auth.NewTokens(secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	resolver := identity.NewResolver()
	gate := auth.NewGate(resolver)
	rec := audit.NewRecorder()
	eval := billing.NewEvaluator()
	bill := billing.NewService(st, gate, rec, eval, billing.WithPaidPeriod(cfg.Billing.PaidPeriod))
	reg := beneficiary.NewRegistry(st, gate, eval, rec)
	scr := screening.NewService(st, gate, rec)

	api, err := httpapi.New(httpapi.Services{
		Store:         st,
		Gate:          gate,
		Tokens:        tokens,
		Verifier:      verifier,
		Identity:      identity.NewService(st, resolver),
		Orgs:          org.NewService(st, gate, bill, reg, rec, org.DefaultsFromConfig(cfg.Organization)),
		Billing:       bill,
		Beneficiaries: reg,
		Disbursements: disbursement.NewEngine(st, gate, scr, rec, disbursement.WithPublisher(publisher)),
		Screening:     scr,
		Audit:         audit.NewService(st, gate),
		Events:        events,
	}, httpapi.Options{
		Version:     version,
		Ready:       ready,
		CORSOrigins: cfg.Server.CORSOrigins,
		Rate:        cfg.Rate,
		IngestKey:   cfg.Auth.IngestKey,
	})
	if err != nil {
		return err
	}
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCServer(ready, version)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Server.GRPCAddr != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				return err
			}
			logger.Info().Str("addr", cfg.Server.GRPCAddr).Msg("grpc listening")
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			health.Watch(gctx, 10*time.Second)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
