package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run builds every component and blocks until an interrupt or a listener
// failure, so deferred cleanup always executes before exit.
func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := server.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		logger.Info("closing store")
		_ = st.Close()
	}()

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	srv := server.New(*cfg, st, verifier, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting chatrelay", "port", cfg.Port, "database", cfg.Database.Path)
	if err := srv.Serve(ctx, shutdownTimeout); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}
