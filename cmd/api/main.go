package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gemchat/internal/config"
	"gemchat/internal/db"
	"gemchat/internal/gemini"
	"gemchat/internal/httpapi"
	"gemchat/internal/store"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	// Local development only; in deployment the environment is already set.
	_ = godotenv.Load()

	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	st, cleanup, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	if cleanup != nil {
		defer cleanup()
	}
	if st == nil {
		logger.Warn().Msg("no conversation store configured; persisted endpoints are disabled")
	}

	client := gemini.NewClient(cfg, &http.Client{Timeout: 120 * time.Second})
	handler := httpapi.NewRouter(cfg, logger, st, client)

	srv := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 130 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddress()).Str("backend", string(cfg.StoreBackend)).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// openStore builds the configured store backend. A nil store means the
// process runs stream-only.
func openStore(cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		database, err := db.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		st := store.NewSQLStore(database)
		if err := st.EnsureSchema(context.Background()); err != nil {
			_ = database.Close()
			return nil, nil, err
		}
		return st, func() { _ = database.Close() }, nil

	case config.BackendBadger:
		badgerDB, err := db.OpenBadger(cfg)
		if err != nil {
			return nil, nil, err
		}
		return store.NewDocStore(badgerDB), func() { _ = badgerDB.Close() }, nil

	default:
		return nil, nil, nil
	}
}
