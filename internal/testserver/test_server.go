package testserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/presence"
	"github.com/rpggio/taskhub/internal/domain/task"
	"github.com/rpggio/taskhub/internal/domain/user"
	"github.com/rpggio/taskhub/internal/hub"
	"github.com/rpggio/taskhub/internal/mcp"
	"github.com/rpggio/taskhub/internal/sqlite"
	"github.com/rpggio/taskhub/internal/transport"
)

const secret = "test-secret"

// TestServer runs the full HTTP surface over an in-memory database.
type TestServer struct {
	Server     *httptest.Server
	DB         *sqlite.DB
	Hub        *hub.Hub
	Tasks      *task.Service
	Activities *activity.Service
	Users      *user.Service
	Presence   *presence.Registry
	Socket     *transport.SocketHandler

	resolver *transport.JWTResolver
}

func New(t *testing.T) *TestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	taskRepo := sqlite.NewTaskRepository(db)
	userRepo := sqlite.NewUserRepository(db)
	activityRepo := sqlite.NewActivityRepository(db)

	broadcaster := hub.New(hub.DefaultQueueSize, nil)
	activitySvc := activity.NewService(activityRepo, broadcaster, activity.DefaultFeedLimit, nil)
	userSvc := user.NewService(userRepo, nil)
	taskSvc := task.NewService(taskRepo, activitySvc, broadcaster, nil)
	registry := presence.NewRegistry(userRepo, taskSvc, broadcaster, nil)

	resolver := transport.NewJWTResolver(secret)
	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Tasks:      taskSvc,
			Activities: activitySvc,
			Users:      userSvc,
		},
		Resolver:      resolver,
		Ensurer:       userSvc,
		AuthEnabled:   true,
		TransportMode: "http",
	})

	socketCfg := transport.DefaultSocketConfig()
	socketCfg.Writer.PingInterval = 0
	socket := transport.NewSocketHandler(registry, broadcaster, taskSvc, activitySvc, socketCfg, nil)
	router := transport.NewServer(transport.Services{
		Tasks:      taskSvc,
		Activities: activitySvc,
		Users:      userSvc,
	}, transport.RouterConfig{
		Auth:   transport.AuthMiddleware(resolver, userSvc),
		Socket: socket,
		MCP: sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server {
			return mcpServer
		}, nil),
	})
	connCtx, cancelConns := context.WithCancel(context.Background())
	server := httptest.NewUnstartedServer(router)
	server.Config.BaseContext = func(net.Listener) context.Context { return connCtx }
	server.Config.RegisterOnShutdown(cancelConns)
	server.Start()

	t.Cleanup(func() {
		cancelConns()
		server.Close()
		_ = db.Close()
	})

	return &TestServer{
		Server:     server,
		DB:         db,
		Hub:        broadcaster,
		Tasks:      taskSvc,
		Activities: activitySvc,
		Users:      userSvc,
		Presence:   registry,
		Socket:     socket,
		resolver:   resolver,
	}
}

// Token returns a bearer token for id, registering id as a board member.
func (ts *TestServer) Token(t *testing.T, id user.Identity) string {
	t.Helper()
	_, err := ts.Users.Ensure(context.Background(), id)
	require.NoError(t, err)
	token, err := ts.resolver.Issue(id, time.Hour)
	require.NoError(t, err)
	return token
}

// URL returns the absolute URL of path.
func (ts *TestServer) URL(path string) string {
	return ts.Server.URL + path
}

// SocketURL returns the socket endpoint URL authenticated with token.
func (ts *TestServer) SocketURL(token string) string {
	return "ws" + strings.TrimPrefix(ts.Server.URL, "http") + "/ws?token=" + token
}

// Shutdown stops the HTTP server the way cmd/server does and waits for open
// sockets to finish their disconnect cleanup.
func (ts *TestServer) Shutdown(ctx context.Context) error {
	if err := ts.Server.Config.Shutdown(ctx); err != nil {
		return err
	}
	return ts.Socket.Wait(ctx)
}
