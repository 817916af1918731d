package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"greasetrack/config"
	"greasetrack/engine"
	"greasetrack/logging"
	"greasetrack/messaging"
	"greasetrack/store"
	"greasetrack/tankstate"
	"greasetrack/topology"
	"greasetrack/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "greasetrack.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("greasetrack", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, "greasetrack")
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	log.Info("greasetrack: database open", zap.String("driver", cfg.Database.Driver))

	ctx := context.Background()

	// Topology
	if cfg.SeedFile != "" {
		counts, err := topology.LoadSeed(ctx, cfg.SeedFile, db)
		if err != nil {
			log.Fatal("load seed", zap.String("path", cfg.SeedFile), zap.Error(err))
		}
		log.Info("greasetrack: seed applied", zap.Int("clusters", counts.Clusters),
			zap.Int("consumers", counts.Consumers), zap.Int("tanks", counts.Tanks))
	}
	if _, err := topology.AssignRoles(ctx, db, cfg.Roles, log); err != nil {
		log.Fatal("assign cluster roles", zap.Error(err))
	}

	// Redis
	cache := tankstate.DialRedis(&cfg.Redis)
	if cache != nil {
		defer cache.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := cache.Ping(pingCtx); err != nil {
			log.Warn("greasetrack: redis not available, reading projection from SQL until it returns",
				zap.String("addr", cfg.Redis.Address), zap.Error(err))
		} else {
			log.Info("greasetrack: redis connected", zap.String("addr", cfg.Redis.Address))
		}
		cancel()
	}

	// Messaging client
	msgClient := messaging.NewClient(&cfg.Messaging, log)
	if err := msgClient.Connect(); err != nil {
		log.Warn("greasetrack: messaging connect failed", zap.String("backend", cfg.Messaging.Backend), zap.Error(err))
	} else if msgClient.Enabled() {
		log.Info("greasetrack: messaging connected", zap.String("backend", cfg.Messaging.Backend))
	}
	defer msgClient.Close()

	// Engine
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		Cache:     cache,
		MsgClient: msgClient,
		Log:       log,
	})
	if err := eng.Start(ctx); err != nil {
		log.Fatal("start engine", zap.Error(err))
	}
	defer eng.Stop()

	// Outbox drainer; idles until a backend is connected.
	drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval,
		cfg.Messaging.OutboxBatchSize, log)
	drainer.Start()
	defer drainer.Stop()

	// Web server
	handler, stopWeb := www.NewRouter(eng)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("greasetrack: web server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("web server", zap.Error(err))
		}
	}()

	log.Info("greasetrack: ready", zap.String("version", Version), zap.String("site", cfg.SiteID))

	// SIGHUP reconnects messaging; SIGINT and SIGTERM shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			break
		}
		log.Info("greasetrack: SIGHUP, reconnecting messaging")
		hupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := eng.ReconfigureMessaging(hupCtx); err != nil {
			log.Warn("greasetrack: messaging still on previous backend", zap.Error(err))
		}
		cancel()
	}

	log.Info("greasetrack: shutting down")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("greasetrack: web shutdown", zap.Error(err))
	}

	log.Info("greasetrack: stopped")
}
