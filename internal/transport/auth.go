package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/rpggio/taskhub/internal/domain/user"
)

// ErrUnauthorized indicates invalid or missing credentials.
var ErrUnauthorized = errors.New("unauthorized")

type identityKey struct{}

// IdentityResolver resolves the caller from a bearer token.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (user.Identity, error)
}

// UserEnsurer makes sure a resolved identity is known to the board.
type UserEnsurer interface {
	Ensure(ctx context.Context, id user.Identity) (*user.User, error)
}

// IdentityFromContext returns the authenticated identity from context, if present.
func IdentityFromContext(ctx context.Context) (user.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(user.Identity)
	return id, ok && id.ID != ""
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id user.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// AuthMiddleware enforces bearer token authentication. The token is read from the
// Authorization header, or from the token query parameter for socket upgrades.
func AuthMiddleware(resolver IdentityResolver, users UserEnsurer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			id, err := resolver.ResolveIdentity(r.Context(), token)
			if err != nil || id.ID == "" {
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}

			if users != nil {
				if _, err := users.Ensure(r.Context(), id); err != nil {
					writeError(w, http.StatusUnauthorized, "unknown identity")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Claims are the JWT claims carried by a board token.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTResolver validates HMAC-signed tokens.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a resolver for tokens signed with secret.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

// ResolveIdentity validates token and returns the identity it names.
func (r *JWTResolver) ResolveIdentity(_ context.Context, token string) (user.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return user.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return user.Identity{}, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" || claims.Username == "" {
		return user.Identity{}, fmt.Errorf("%w: token has no identity", ErrUnauthorized)
	}
	return user.Identity{ID: id, Username: claims.Username}, nil
}

// Issue signs a token for id valid for ttl.
func (r *JWTResolver) Issue(id user.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id.ID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// InsecureResolver trusts the token as the username. Only for local use with
// auth disabled.
type InsecureResolver struct{}

// ResolveIdentity returns an identity whose ID and username are the token.
func (InsecureResolver) ResolveIdentity(_ context.Context, token string) (user.Identity, error) {
	if token == "" {
		return user.Identity{}, ErrUnauthorized
	}
	return user.Identity{ID: token, Username: token}, nil
}
