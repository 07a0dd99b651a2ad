package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// trafficLoggingMiddleware logs each MCP message at debug level. Inbound
// requests carry the caller once the auth middleware has run.
func trafficLoggingMiddleware(logger *slog.Logger, direction string) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		if logger == nil {
			return next
		}
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if !logger.Enabled(ctx, slog.LevelDebug) {
				return next(ctx, method, req)
			}

			msgLog := logger.With("direction", direction, "method", method, "session_id", sessionIDOf(req))
			if id, ok := getIdentity(ctx); ok {
				msgLog = msgLog.With("user_id", id.ID, "username", id.Username)
			}
			msgLog.Debug("mcp request", "params", describe(paramsOf(req)))

			start := time.Now()
			result, err := next(ctx, method, req)
			if strings.HasPrefix(method, "notifications/") {
				return result, err
			}

			attrs := []any{"elapsed", time.Since(start), "result", describe(result)}
			if err != nil {
				attrs = append(attrs, "error", err)
			}
			msgLog.Debug("mcp response", attrs...)
			return result, err
		}
	}
}

// sessionIDOf returns "" for requests without a live session. Sessions of
// in-flight initialize requests may not be usable yet.
func sessionIDOf(req sdkmcp.Request) (id string) {
	defer func() {
		if recover() != nil {
			id = ""
		}
	}()
	if req == nil {
		return ""
	}
	if s := req.GetSession(); s != nil {
		return s.ID()
	}
	return ""
}

func paramsOf(req sdkmcp.Request) (params any) {
	defer func() {
		if recover() != nil {
			params = nil
		}
	}()
	if req == nil {
		return nil
	}
	return req.GetParams()
}

// describe renders v as JSON for the log, or its type when it cannot be encoded.
func describe(v any) string {
	if v == nil {
		return "<nil>"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T", v)
	}
	return string(data)
}
