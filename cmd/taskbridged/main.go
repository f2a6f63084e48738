// taskbridged is the reconciliation daemon: an HTTP API for task lookup
// with on-read reconciliation, plus an optional gRPC health listener for
// orchestrators that probe over gRPC.
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/taskbridge/taskbridge/internal/access"
	"github.com/taskbridge/taskbridge/internal/classifier"
	"github.com/taskbridge/taskbridge/internal/common"
	"github.com/taskbridge/taskbridge/internal/connector"
	"github.com/taskbridge/taskbridge/internal/executor"
	"github.com/taskbridge/taskbridge/internal/export"
	"github.com/taskbridge/taskbridge/internal/observability"
	"github.com/taskbridge/taskbridge/internal/pubsub"
	"github.com/taskbridge/taskbridge/internal/reconcile"
	"github.com/taskbridge/taskbridge/internal/repository"
	"github.com/taskbridge/taskbridge/internal/server"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Error("main.config.invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracingFromEnv("taskbridged")
	if err != nil {
		log.Error("main.tracing.init_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("main.tracing.shutdown_failed", "error", err)
		}
	}()

	store, err := repository.Open(ctx, cfg, log)
	if err != nil {
		log.Error("main.store.open_failed", "kind", cfg.Store.Kind, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("main.store.close_failed", "error", err)
		}
	}()

	// Classification rules: compiled-in defaults, overridden and hot
	// reloaded from the rule file when one is configured.
	ruleCfg := classifier.DefaultConfig()
	if cfg.Reconcile.RuleFile != "" {
		ruleCfg, err = classifier.LoadFile(cfg.Reconcile.RuleFile)
		if err != nil {
			log.Error("main.rules.load_failed", "path", cfg.Reconcile.RuleFile, "error", err)
			os.Exit(1)
		}
	}
	rules, err := classifier.Compile(ruleCfg)
	if err != nil {
		log.Error("main.rules.compile_failed", "error", err)
		os.Exit(1)
	}
	holder := classifier.NewHolder(rules)
	if cfg.Reconcile.RuleFile != "" {
		if err := classifier.StartWatch(ctx, cfg.Reconcile.RuleFile, holder, log); err != nil {
			log.Error("main.rules.watch_failed", "error", err)
			os.Exit(1)
		}
	}

	var decryptor connector.Decryptor
	if cfg.Reconcile.MasterKeyBase64 != "" {
		cipher, err := connector.NewAESCipherFromBase64(cfg.Reconcile.MasterKeyBase64)
		if err != nil {
			log.Error("main.masterkey.invalid", "error", err)
			os.Exit(1)
		}
		decryptor = cipher
	}

	pool, err := ants.NewPool(cfg.Reconcile.WorkerPoolSize)
	if err != nil {
		log.Error("main.pool.create_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Release()

	var notifier reconcile.Notifier
	if cfg.Events.KafkaAddr != "" {
		producer, err := pubsub.NewProducer(cfg.Events, log)
		if err != nil {
			log.Error("main.kafka.init_failed", "addr", cfg.Events.KafkaAddr, "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := producer.Close(ctx); err != nil {
				log.Warn("main.kafka.close_failed", "error", err)
			}
		}()
		notifier = producer
	}

	svc := reconcile.New(reconcile.Deps{
		Store:          store,
		Resolver:       connector.NewResolver(store, log),
		Gate:           access.NewStoreGate(store, log),
		Registry:       executor.DefaultRegistry(),
		Rules:          holder,
		Decryptor:      decryptor,
		Pool:           pool,
		HTTPClient:     &http.Client{Timeout: cfg.Reconcile.RemoteTimeout},
		Notifier:       notifier,
		TenancyEnabled: cfg.Reconcile.TenancyEnabled,
		Logger:         log,
	})

	srv := server.New(cfg.Server, svc, store, export.NewService(store, log), log)

	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		grpcServer = grpc.NewServer()
		hs := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, hs)
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		reflection.Register(grpcServer)

		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Error("main.grpc.listen_failed", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			log.Info("main.grpc.serving", "addr", cfg.Server.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				log.Error("main.grpc.serve_failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("main.shutdown.signal")
	case err := <-errCh:
		if err != nil {
			log.Error("main.http.serve_failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("main.http.shutdown_failed", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	log.Info("main.stopped")
}
