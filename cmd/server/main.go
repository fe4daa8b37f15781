package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mbrainaly/flashcard-backend/pkg/credits"
	"github.com/mbrainaly/flashcard-backend/pkg/httpserver"
	"github.com/mbrainaly/flashcard-backend/pkg/logger"
	appmongo "github.com/mbrainaly/flashcard-backend/pkg/mongo"
	appredis "github.com/mbrainaly/flashcard-backend/pkg/redis"
	"github.com/mbrainaly/flashcard-backend/svc/generation"
	"github.com/mbrainaly/flashcard-backend/svc/quota"
)

type config struct {
	Logger       logger.Config
	HTTP         httpserver.Config
	Mongo        appmongo.Config
	Redis        appredis.Config
	OpenAI       generation.Config
	PlanCacheTTL time.Duration `env:"PLAN_CACHE_TTL" envDefault:"5m"`
}

func main() {
	// The .env file is optional; in production everything comes from
	// real environment variables.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to load configuration", logger.Error(err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logger, os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, log *slog.Logger) error {
	db, err := appmongo.ConnectDatabase(ctx, cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			log.Warn("failed to disconnect mongo client", logger.Error(err))
		}
	}()

	// The plan cache is an optimization; run uncached if Redis is down.
	rdb, err := appredis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, plan cache disabled", logger.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	store := quota.NewMongoStore(db)
	planStore := quota.NewPlanCache(store, rdb, cfg.PlanCacheTTL, log)

	resolver := credits.NewResolver(planStore, credits.DefaultLegacyPlans())
	ledger := credits.NewLedger(store, resolver, store.PlanRef, log)
	gate := credits.NewGate(ledger)
	gate.RegisterCounter(credits.FeatureDecks, store.CountDecks)
	tracker := credits.NewActivityTracker(store, nil, log)

	genSvc := generation.NewService(
		openai.NewClient(cfg.OpenAI.APIKey),
		cfg.OpenAI.Model,
		gate, ledger, tracker, log,
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", healthHandler(appmongo.Healthcheck(db.Client())))
	r.Mount("/v1/quota", quota.NewHandler(ledger, gate, tracker, log).Router())
	r.Mount("/v1/generate", generation.NewHandler(genSvc, log).Router())

	return httpserver.Run(ctx, cfg.HTTP, r, log)
}

func healthHandler(probe func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := probe(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
