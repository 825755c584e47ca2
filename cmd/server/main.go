package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"bubbleboard/internal/board"
	"bubbleboard/internal/broker"
	"bubbleboard/internal/config"
	"bubbleboard/internal/database"
	"bubbleboard/internal/handler"
	"bubbleboard/internal/persist"
	"bubbleboard/internal/store"
)

func main() {
	// .envファイルを読み込み
	envErr := godotenv.Load()

	// 環境変数を読み込み
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	if envErr != nil {
		logger.Debug().Err(envErr).Msg(".env file not found, using environment")
	}

	// 保存先を決定（書き込めなければ data/ に退避）
	messagesFile := persist.ResolvePath(cfg.MessagesFile, cfg.FallbackDataDir, logger)
	publicLogFile := persist.ResolvePath(cfg.PublicLogFile, cfg.FallbackDataDir, logger)
	emailLogFile := persist.ResolvePath(cfg.EmailLogFile, cfg.FallbackDataDir, logger)

	snapshots := persist.NewSnapshotStore(messagesFile, logger)
	messages := store.New(snapshots.Load())

	audit := persist.NewAuditLog(publicLogFile, emailLogFile, logger)
	defer audit.Close()

	// アーカイブ用データベース（任意）
	var archive *database.Archive
	if cfg.ArchiveEnabled() {
		db, err := database.Init(cfg)
		if err != nil {
			logger.Error().Err(err).Msg("archive database unavailable, continuing without it")
		} else {
			defer db.Close()
			archive = database.NewArchive(db, logger)
			defer archive.Wait()
			logger.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("archive database connected")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// WebSocket ブロードキャスターを開始
	b := broker.New(cfg.WSWriteTimeout, logger)
	brokerCtx, stopBroker := context.WithCancel(context.Background())
	brokerDone := make(chan struct{})
	go func() {
		b.Run(brokerCtx)
		close(brokerDone)
	}()

	deps := board.Deps{
		Store:     messages,
		Snapshots: snapshots,
		Audit:     audit,
		Publisher: b,
		Logger:    logger,
	}
	if archive != nil {
		deps.Archive = archive
	}
	bb := board.New(deps)

	h, err := handler.New(bb, b, audit, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid admin configuration")
	}

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.Handler(h.SetupRouter()),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("env", cfg.Env).
			Str("addr", srv.Addr).
			Strs("allowed_origins", cfg.AllowedOrigins).
			Str("messages_file", messagesFile).
			Str("log_file", publicLogFile).
			Str("email_log_file", emailLogFile).
			Int("messages", messages.Len()).
			Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	stopBroker()
	<-brokerDone
	logger.Info().Msg("server stopped")
}
