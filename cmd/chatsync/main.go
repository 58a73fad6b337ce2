package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/roomwire/chatsync/internal/cli"
	"github.com/roomwire/chatsync/internal/config"
	"github.com/roomwire/chatsync/internal/domain"
	"github.com/roomwire/chatsync/internal/logger"
	"github.com/roomwire/chatsync/internal/repository"
	"github.com/roomwire/chatsync/internal/service"
	mcptransport "github.com/roomwire/chatsync/internal/transport/mcp"
	"github.com/roomwire/chatsync/internal/transport/rest"
	"github.com/roomwire/chatsync/internal/transport/stomp"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	mainLog := logger.Module("main")

	if cfg.UserID == "" {
		mainLog.Fatal().Msg("a local user id is required (-user or CHATSYNC_USER_ID)")
	}
	localUser := domain.UserID(cfg.UserID)

	db, err := initDatabase(cfg.DatabasePath)
	if err != nil {
		mainLog.Fatal().Err(err).Msg("failed to initialize offline cache")
	}

	msgRepo := repository.NewMessageRepository(db)
	roomRepo := repository.NewRoomRepository(db)

	bus := domain.NewEventBus()

	channel := stomp.NewChannel(stomp.ChannelConfig{
		URL:                cfg.WSURL,
		Token:              cfg.Token,
		LocalUser:          localUser,
		AutoReconnect:      true,
		MaxReconnects:      cfg.MaxReconnects,
		ReconnectBaseDelay: cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.ReconnectMaxDelay,
	}, logger.Module("stomp"))

	api := rest.NewClient(cfg.BaseURL, cfg.Token, localUser)

	syncSvc := service.NewSyncService(
		service.Config{
			LocalUser:       localUser,
			PageSize:        cfg.PageSize,
			DedupWindow:     cfg.DedupWindow,
			MaxSendAttempts: cfg.MaxSendAttempts,
			DeliveryTimeout: cfg.DeliveryTimeout,
		},
		channel,
		api,
		msgRepo,
		roomRepo,
		bus,
		logger.Module("sync"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := syncSvc.Start(ctx); err != nil {
		mainLog.Warn().Err(err).Msg("initial sync failed, continuing with cached state")
	}

	switch cfg.Mode {
	case "interactive":
		runInteractiveMode(ctx, cancel, syncSvc, bus)
	default:
		runServerMode(cfg, syncSvc, mainLog)
	}

	mainLog.Info().Msg("shutdown complete")
}

func initDatabase(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	db.Exec("PRAGMA journal_mode=WAL")

	err = db.AutoMigrate(
		&repository.MessageModel{},
		&repository.RoomModel{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func runServerMode(cfg *config.Config, syncSvc *service.SyncService, mainLog zerolog.Logger) {
	mcpServer := mcptransport.NewServer(syncSvc, mcptransport.ServerConfig{
		Address: cfg.MCPAddress,
	})

	errCh := make(chan error, 1)
	go func() {
		mainLog.Info().Str("address", cfg.MCPAddress).Msg("starting MCP server")
		errCh <- mcpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		mainLog.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		mainLog.Error().Err(err).Msg("MCP server stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := mcpServer.Stop(shutdownCtx); err != nil {
		mainLog.Warn().Err(err).Msg("MCP server shutdown error")
	}

	syncSvc.Stop()
}

func runInteractiveMode(ctx context.Context, cancel context.CancelFunc, syncSvc *service.SyncService, bus domain.EventBus) {
	interactiveCLI := cli.NewInteractiveCLI(syncSvc, bus)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := interactiveCLI.Run(ctx); err != nil && err != context.Canceled {
		cliLog := logger.Module("cli")
		cliLog.Error().Err(err).Msg("interactive session ended")
	}

	syncSvc.Stop()
}
