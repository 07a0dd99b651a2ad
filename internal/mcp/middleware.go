package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/taskhub/internal/domain/user"
)

type contextKey int

const identityKey contextKey = iota

// getIdentity extracts the caller from context.
func getIdentity(ctx context.Context) (user.Identity, bool) {
	id, ok := ctx.Value(identityKey).(user.Identity)
	return id, ok && id.ID != ""
}

// IdentityResolver resolves the caller from a bearer token.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (user.Identity, error)
}

// UserEnsurer makes sure a resolved identity is known to the board.
type UserEnsurer interface {
	Ensure(ctx context.Context, id user.Identity) (*user.User, error)
}

// authMiddleware implements bearer token authentication as MCP middleware.
func authMiddleware(resolver IdentityResolver, users UserEnsurer) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			// Skip auth for protocol methods
			if method == "initialize" || method == "ping" || strings.HasPrefix(method, "notifications/") {
				return next(ctx, method, req)
			}

			extra := req.GetExtra()
			if extra == nil || extra.Header == nil {
				return nil, fmt.Errorf("unauthorized: missing headers")
			}

			auth := extra.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if token == "" {
				return nil, fmt.Errorf("unauthorized: missing bearer token")
			}

			id, err := resolver.ResolveIdentity(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("unauthorized: %w", err)
			}
			if id.ID == "" {
				return nil, fmt.Errorf("unauthorized: invalid bearer token")
			}
			if users != nil {
				if _, err := users.Ensure(ctx, id); err != nil {
					return nil, fmt.Errorf("unauthorized: %w", err)
				}
			}

			ctx = context.WithValue(ctx, identityKey, id)
			return next(ctx, method, req)
		}
	}
}

// fixedIdentityMiddleware injects a fixed identity when auth is disabled.
func fixedIdentityMiddleware(id user.Identity, users UserEnsurer) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if users != nil && strings.HasPrefix(method, "tools/") {
				if _, err := users.Ensure(ctx, id); err != nil {
					return nil, fmt.Errorf("registering %s: %w", id.Username, err)
				}
			}
			ctx = context.WithValue(ctx, identityKey, id)
			return next(ctx, method, req)
		}
	}
}
