package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	httpapi "github.com/jhomra21/canvaschat/internal/api/http"
	"github.com/jhomra21/canvaschat/internal/config"
	"github.com/jhomra21/canvaschat/internal/repository"
	"github.com/jhomra21/canvaschat/internal/repository/model"
	"github.com/jhomra21/canvaschat/internal/service"
	"github.com/jhomra21/canvaschat/lib/logger/sl"
	"github.com/jhomra21/canvaschat/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	store, err := buildMessageLog(cfg.Storage)
	if err != nil {
		log.Error("failed to set up storage", sl.Err(err))
		os.Exit(1)
	}

	room := service.NewRoom(cfg.Chat.RoomName, store, service.RoomConfig{
		HistoryLimit: cfg.Chat.HistoryLimit,
		RateWindow:   cfg.Chat.RateWindow,
		RateLimit:    cfg.Chat.RateLimit,
		PruneDelay:   cfg.Chat.PruneDelay,
		IdleAfter:    cfg.Chat.IdleAfter,
	}, log)

	chatController := httpapi.NewChatController(room, cfg.Chat.HistoryPage, log)
	auth := httpapi.AuthMiddleware(cfg.Auth.JWTSecret)

	router := httpapi.SetupRouter(chatController, auth, cfg.HTTP.AllowedOrigins)

	log.Info("starting application",
		slog.String("addr", cfg.HTTP.Address),
		slog.String("room", cfg.Chat.RoomName),
		slog.String("storage", cfg.Storage.Driver),
	)
	if err := router.Run(cfg.HTTP.Address); err != nil {
		log.Error("http server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func buildMessageLog(cfg config.StorageConfig) (repository.MessageLog, error) {
	switch cfg.Driver {
	case "", "memory":
		return repository.NewInMemoryMessageLog(), nil
	case "postgres":
		db, err := connectDatabase(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresMessageLog(db), nil
	case "redis":
		return repository.NewRedisMessageLog(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
}

func connectDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	db.AutoMigrate(&model.LogEntry{})

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
