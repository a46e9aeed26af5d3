package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"trendtide/internal/bootstrap"
	"trendtide/internal/infra"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply the database schema before serving")
	flag.Parse()

	// Muat .env (opsional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise runtime")
	}
	defer rt.Close()

	if *migrate {
		if err := rt.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	// Worker engine ikut jalan di proses API bila EMBEDDED_WORKER=true
	workerDone := make(chan struct{})
	if cfg.EmbeddedWorker {
		go func() {
			defer close(workerDone)
			if err := rt.Engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("embedded worker stopped with error")
			}
		}()
	} else {
		close(workerDone)
	}

	logger.Info().Str("store", cfg.StoreDriver).Bool("embedded_worker", cfg.EmbeddedWorker).Msg("starting api")
	server := infra.NewHTTPServer(cfg, rt.Handler(), logger)
	if err := server.Serve(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
		stop()
	}
	<-workerDone
	logger.Info().Msg("server stopped")
}
