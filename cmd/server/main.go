package main

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"session-chat/auth"
	"session-chat/contract"
	"session-chat/errors"
	"session-chat/infrastructure/grpc"
	"session-chat/infrastructure/websocket"
	"session-chat/internal"
	"session-chat/moderation"
	"session-chat/repositories"
	"session-chat/runtime"
	"session-chat/runtime/workers"
	"session-chat/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const debugEndpoint = "/inspect"

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Returning instead of exiting lets the deferred closes run.
func run() (int, error) {
	// 1. Configuration & Logger
	if err := godotenv.Load(); err != nil && !goerrors.Is(err, os.ErrNotExist) {
		return exitConfig, fmt.Errorf(".env error: %w", err)
	}
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	tokens, err := auth.NewTokenIssuer(config.JWTSecret, config.JWTAlgorithm, config.TokenTTL())
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	db, err := badger.Open(buildBadgerOpts(ctx, config, logger))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) && config.DebugPort > 0 {
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, debugEndpoint))
		database.StartDebugServer(db, config.DebugPort, debugEndpoint, MessageMapper)
	}

	store, closeStore, err := openMessageStore(ctx, config, db, logger)
	if err != nil {
		if goerrors.Is(err, errors.ErrUnknownStorage) {
			return exitConfig, err
		}
		return exitRuntime, err
	}
	defer closeStore()

	censor, err := loadCensor(config.ModerationWordsDir, charReplacement, logger)
	if err != nil {
		return exitConfig, err
	}

	// 3. Chat runtime
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewRoomBroadcaster(logger, store, registry, censor, config.MaxContentLength)
	userRepository := repositories.NewUserRepository(db)
	gate := auth.NewJWTGate(tokens, userRepository)
	authService := services.NewAuthService(userRepository, tokens)
	gateway := services.NewSessionGateway(logger, gate, broadcaster, store, services.GatewayConfig{
		HistoryLimit:      config.HistoryLimit,
		BufferSize:        config.ConnectionBufferSize,
		InboundRatePerSec: config.InboundRatePerSec,
	})

	chatServer := websocket.NewServer(logger, gateway, authService, store, websocket.ServerConfig{
		WriteTimeout:      config.WriteTimeout,
		PingInterval:      config.PingInterval,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ShutdownTimeout:   config.ShutdownTimeout,
		ReadLimit:         config.ReadLimit(),
		AllowedOrigins:    config.Origins(),
	})
	healthServer := grpc.NewHealthServer(logger)

	// 4. Supervision
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(
		workers.NewStatsReporter(logger, registry, config.MetricInterval),
		workers.NewHealthProbe(logger, store, healthServer, config.PingInterval),
	)

	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
	grpcListener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}

	// 5. Serve until a signal or the first failure
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sup.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return chatServer.ListenAndServe(gctx, fmt.Sprintf("%s:%d", config.Host, config.Port))
	})
	g.Go(func() error {
		return healthServer.Serve(gctx, grpcListener)
	})

	logger.Info("Chat server started", "storage", config.Storage, "port", config.Port, "grpc_port", config.GrpcPort, "at", time.Now().UTC())
	err = g.Wait()
	sup.Stop()
	if err != nil {
		return exitRuntime, err
	}
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(ctx context.Context, config internal.Config, logger *slog.Logger) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}

// openMessageStore returns the message log selected by STORAGE and a
// function releasing it.
func openMessageStore(ctx context.Context, config internal.Config, db *badger.DB, logger *slog.Logger) (contract.IMessageStore, func(), error) {
	switch config.Storage {
	case internal.StorageBadger:
		repository := repositories.NewMessageRepository(db, logger)
		return repository, func() {
			if err := repository.Close(); err != nil {
				logger.Warn("Unable to release message sequence", "error", err)
			}
		}, nil
	case internal.StoragePostgres:
		pool, err := repositories.ConnectPostgres(ctx, config.DatabaseURL, int32(config.DBMaxConns))
		if err != nil {
			return nil, nil, err
		}
		store := repositories.NewPostgresMessageStore(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() {
			logger.Info("Closing Postgres pool...")
			pool.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errors.ErrUnknownStorage, config.Storage)
	}
}

// loadCensor builds the moderator from every word list in dir. No dir, no
// censoring.
func loadCensor(dir string, charReplacement rune, logger *slog.Logger) (contract.ICensor, error) {
	if dir == "" {
		return nil, nil
	}
	list, err := moderation.NewWordLoader(os.DirFS(dir)).LoadAll(".")
	if err != nil {
		return nil, fmt.Errorf("loading moderation words: %w", err)
	}
	moderator, err := moderation.NewModerator(list.Words, charReplacement)
	if err != nil {
		return nil, err
	}
	logger.Info("Moderation enabled", "words", len(list.Words), "languages", list.Languages)
	return moderator, nil
}

// MessageMapper renders stored messages in the debug inspector.
func MessageMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	// users, the sequence and room heads share the keyspace
	if !strings.HasPrefix(key, repositories.MessageKeyPrefix) {
		return row
	}

	msg, err := repositories.DecodeMessage(val)
	if err != nil {
		row.Detail = "Error: decoding failed"
		return row
	}
	row.Type = string(msg.Tag)
	row.Detail = fmt.Sprintf("#%d %s: %s", msg.ID, msg.Author.DisplayName, msg.Content)
	return row
}
