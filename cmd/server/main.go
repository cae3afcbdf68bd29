package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"certvault/internal/audit"
	"certvault/internal/certificate"
	certmemory "certvault/internal/certificate/store/memory"
	certpostgres "certvault/internal/certificate/store/postgres"
	"certvault/internal/extraction"
	"certvault/internal/extraction/stub"
	"certvault/internal/extraction/vertex"
	"certvault/internal/ingest"
	ingesthandler "certvault/internal/ingest/handler"
	"certvault/internal/objectstore"
	"certvault/internal/objectstore/fs"
	"certvault/internal/objectstore/gcs"
	"certvault/internal/orchestrator"
	"certvault/internal/platform/config"
	"certvault/internal/platform/httpserver"
	"certvault/internal/platform/logger"
	"certvault/internal/platform/metrics"
	"certvault/internal/platform/middleware"
	"certvault/internal/platform/postgres"
	platformredis "certvault/internal/platform/redis"
	"certvault/internal/query"
	queryhandler "certvault/internal/query/handler"
	"certvault/internal/token"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in internal services packages. Collaborators without
// configuration fall back to in-process substitutes so the binary runs
// locally without cloud credentials.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var db *sql.DB
	var store certificate.Store
	if cfg.DatabaseURL != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("connect postgres", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		store = certpostgres.New(db)
		log.Info("metadata store: postgres")
	} else {
		store = certmemory.New()
		log.Warn("metadata store: in-memory, records will not survive restart")
	}

	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err.Error())
		os.Exit(1)
	}
	var issuedTokens token.IssuedStore
	if redisClient != nil {
		defer redisClient.Close()
		issuedTokens = token.NewRedisStore(redisClient)
		log.Info("issued-token store: redis")
	} else {
		issuedTokens = token.NewMemoryStore(nil)
	}

	var objects objectstore.Store
	var signer objectstore.URLSigner
	if cfg.GCSBucket != "" {
		gcsStore, err := gcs.New(ctx, cfg.GCSBucket)
		if err != nil {
			log.Error("connect gcs", "error", err.Error())
			os.Exit(1)
		}
		defer gcsStore.Close()
		objects = gcsStore
		signer = gcsStore
		log.Info("object store: gcs", "bucket", cfg.GCSBucket)
	} else {
		objects = fs.New(cfg.ObjectRoot)
		log.Info("object store: filesystem", "root", cfg.ObjectRoot)
	}

	var extractor extraction.Capability
	if cfg.VertexProject != "" {
		vertexClient, err := vertex.New(ctx, cfg.VertexProject, cfg.VertexRegion, cfg.VertexModel)
		if err != nil {
			log.Error("connect vertex", "error", err.Error())
			os.Exit(1)
		}
		defer vertexClient.Close()
		extractor = vertexClient
		log.Info("extractor: vertex", "model", cfg.VertexModel)
	} else {
		extractor = stub.New()
		log.Warn("extractor: deterministic stub, configure CERTVAULT_VERTEX_PROJECT for real extraction")
	}

	g, ctx := errgroup.WithContext(ctx)

	var auditOpts []audit.Option
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Error("connect kafka", "error", err.Error())
			os.Exit(1)
		}
		defer sink.Close()
		mirror := make(chan certificate.ProcessingLogEntry, 1024)
		auditOpts = append(auditOpts, audit.WithMirror(mirror))
		g.Go(func() error {
			return sink.Run(ctx, mirror)
		})
		log.Info("processing log mirrored to kafka", "topic", cfg.KafkaTopic)
	}
	auditLog := audit.NewPublisher(store, log, auditOpts...)

	queue := ingest.NewQueue(cfg.QueueSize)
	orch := orchestrator.New(store, objects, extractor, auditLog, queue, log, m, orchestrator.Config{
		Workers:        cfg.Workers,
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: cfg.ExtractionTimeout,
		BackoffBase:    cfg.BackoffBase,
	})
	g.Go(func() error {
		return orch.Run(ctx)
	})

	tokenOpts := []token.Option{}
	if signer != nil {
		tokenOpts = append(tokenOpts, token.WithURLSigner(signer))
	}
	issuer := token.New(store, issuedTokens, cfg.TokenSigningKey, cfg.DownloadTTL, cfg.BaseURL, m, tokenOpts...)
	queryService := query.NewService(store, issuer)

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.Latency(m))

	var redeemer queryhandler.Redeemer
	if signer == nil {
		redeemer = issuer
	}
	queryhandler.New(queryService, orch, redeemer, objects, log).Register(router)
	ingestHandler := ingesthandler.New(queue, log, m)
	if err := ingestHandler.Register(ctx, router); err != nil {
		log.Error("register ingest handler", "error", err.Error())
		os.Exit(1)
	}

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)
	g.Go(func() error {
		log.Info("starting certvault", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
