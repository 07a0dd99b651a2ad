package mcp

import (
	"context"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/task"
	"github.com/rpggio/taskhub/internal/domain/user"
)

// TaskService defines task operations needed by MCP.
type TaskService interface {
	Create(ctx context.Context, actor user.Identity, req task.CreateRequest) (*task.Task, error)
	List(ctx context.Context, opts task.ListOptions) ([]task.Task, error)
	AttemptUpdate(ctx context.Context, actor user.Identity, req task.UpdateRequest) (*task.Task, *task.ConflictRecord, error)
	ResolveConflict(ctx context.Context, actor user.Identity, req task.ResolveRequest) (*task.Task, error)
	SmartAssign(ctx context.Context, actor user.Identity, taskID string, candidates []user.Identity) (*task.Task, error)
	StartEdit(ctx context.Context, actor user.Identity, taskID string) (bool, error)
	StopEdit(ctx context.Context, actor user.Identity, taskID string) error
}

// ActivityService defines activity operations needed by MCP.
type ActivityService interface {
	Recent(ctx context.Context, limit int) ([]activity.Entry, error)
}

// UserService lists board members.
type UserService interface {
	List(ctx context.Context) ([]user.User, error)
}

// Services contains all domain services needed by MCP.
type Services struct {
	Tasks      TaskService
	Activities ActivityService
	Users      UserService
}

// Config contains server configuration.
type Config struct {
	Services    Services
	Resolver    IdentityResolver
	Ensurer     UserEnsurer
	AuthEnabled bool
	// TransportMode is "stdio" or "http".
	TransportMode string
	// DefaultIdentity acts for every call when auth is off.
	DefaultIdentity user.Identity
	Logger          *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "taskhub",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Later middleware wraps earlier middleware, so logging sees the identity.
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))
	if cfg.TransportMode == "stdio" || !cfg.AuthEnabled {
		// Stdio is local only; always act as the default identity.
		server.AddReceivingMiddleware(fixedIdentityMiddleware(cfg.DefaultIdentity, cfg.Ensurer))
	} else {
		server.AddReceivingMiddleware(authMiddleware(cfg.Resolver, cfg.Ensurer))
	}

	registerTools(server, cfg.Services)

	return server
}
