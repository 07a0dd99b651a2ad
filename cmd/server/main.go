package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/taskhub/internal/config"
	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/presence"
	"github.com/rpggio/taskhub/internal/domain/task"
	"github.com/rpggio/taskhub/internal/domain/user"
	"github.com/rpggio/taskhub/internal/hub"
	"github.com/rpggio/taskhub/internal/mcp"
	"github.com/rpggio/taskhub/internal/sqlite"
	"github.com/rpggio/taskhub/internal/transport"
)

type identityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (user.Identity, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.MCP.Transport == "stdio" {
		logWriter = os.Stderr
	}
	if logPath := os.Getenv("TASKHUB_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		logger.Error("failed to prepare database path", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	taskRepo := sqlite.NewTaskRepository(db)
	userRepo := sqlite.NewUserRepository(db)
	activityRepo := sqlite.NewActivityRepository(db)

	broadcaster := hub.New(cfg.Broadcast.QueueSize, logger)
	activitySvc := activity.NewService(activityRepo, broadcaster, cfg.Activity.FeedLimit, logger)
	userSvc := user.NewService(userRepo, logger)
	taskSvc := task.NewService(taskRepo, activitySvc, broadcaster, logger)
	registry := presence.NewRegistry(userRepo, taskSvc, broadcaster, logger)

	var resolver identityResolver = transport.InsecureResolver{}
	if cfg.Auth.Enabled {
		resolver = transport.NewJWTResolver(cfg.Auth.JWTSecret)
	} else {
		logger.Warn("auth disabled: bearer tokens are trusted as usernames")
	}

	defaultID := user.Identity{ID: cfg.MCP.DefaultUser, Username: cfg.MCP.DefaultUser}
	if !cfg.Auth.Enabled || cfg.MCP.Transport == "stdio" {
		if _, err := userSvc.Ensure(context.Background(), defaultID); err != nil {
			logger.Error("failed to register default MCP user", "error", err)
			os.Exit(1)
		}
	}

	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Tasks:      taskSvc,
			Activities: activitySvc,
			Users:      userSvc,
		},
		Resolver:        resolver,
		Ensurer:         userSvc,
		AuthEnabled:     cfg.Auth.Enabled,
		TransportMode:   cfg.MCP.Transport,
		DefaultIdentity: defaultID,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go task.NewSweeper(taskSvc, cfg.Locks.SweepInterval, cfg.Locks.StaleAfter, logger).Run(ctx)

	socketCfg := transport.DefaultSocketConfig()
	socketCfg.TypingRate = cfg.Typing.RatePerSecond
	socketCfg.TypingBurst = cfg.Typing.Burst
	socketCfg.OriginPatterns = cfg.Server.AllowedOrigins

	socket := transport.NewSocketHandler(registry, broadcaster, taskSvc, activitySvc, socketCfg, logger)
	routerCfg := transport.RouterConfig{
		Auth:   transport.AuthMiddleware(resolver, userSvc),
		Socket: socket,
		Logger: logger,
	}
	if cfg.MCP.Transport == "http" {
		routerCfg.MCP = sdkmcp.NewStreamableHTTPHandler(
			func(r *http.Request) *sdkmcp.Server { return mcpServer },
			&sdkmcp.StreamableHTTPOptions{
				Stateless:      false,
				SessionTimeout: 30 * time.Minute,
			},
		)
	}
	router := transport.NewServer(transport.Services{
		Tasks:      taskSvc,
		Activities: activitySvc,
		Users:      userSvc,
	}, routerCfg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	// Sockets are hijacked and outlive Shutdown unless their base context ends.
	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return connCtx },
	}
	httpServer.RegisterOnShutdown(cancelConns)

	go func() {
		logger.Info("server listening", "addr", addr, "mcp", cfg.MCP.Transport, "auth", cfg.Auth.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	if cfg.MCP.Transport == "stdio" {
		runStdio(ctx, logger, mcpServer)
		stop()
	}

	<-ctx.Done()
	shutdown(logger, httpServer, socket)
}

// runStdio serves MCP on stdin/stdout until stdin closes or ctx is done.
func runStdio(ctx context.Context, logger *slog.Logger, mcpServer *sdkmcp.Server) {
	logger.Info("starting stdio transport")
	if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stdio server error", "error", err)
	}
}

// shutdown stops the HTTP server and waits for open sockets to run their
// disconnect cleanup before the database is closed.
func shutdown(logger *slog.Logger, server *http.Server, socket *transport.SocketHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := socket.Wait(ctx); err != nil {
		logger.Warn("sockets still open at shutdown", "error", err)
	}
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
