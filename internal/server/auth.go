package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"fleetplan/internal/engine/auth"
	"fleetplan/internal/repo"
)

// AuthConfig selects how callers authenticate. Without a JWTSecret only API keys work.
type AuthConfig struct {
	JWTSecret string
	Logger    *slog.Logger
}

// Principal is the authenticated caller of a request.
type Principal struct {
	ActorID     string
	Roles       []string
	Permissions []string
	Source      string
}

type principalKey struct{}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

var errNoCredentials = errors.New("no credentials")

// tokenClaims is the body of a fleetplan bearer token.
type tokenClaims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// credentials resolves the Authorization or X-Api-Key header of a request.
type credentials struct {
	secret []byte
	keys   repo.Repo
}

func (c credentials) resolve(req *http.Request) (Principal, error) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		scheme, token, _ := strings.Cut(authz, " ")
		token = strings.TrimSpace(token)
		if !strings.EqualFold(scheme, "bearer") || token == "" {
			return Principal{}, fmt.Errorf("unsupported authorization scheme %q", scheme)
		}
		return c.fromToken(token)
	}
	if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
		return c.fromAPIKey(req.Context(), key)
	}
	return Principal{}, errNoCredentials
}

func (c credentials) fromToken(raw string) (Principal, error) {
	if len(c.secret) == 0 {
		return Principal{}, errors.New("bearer tokens disabled")
	}
	var claims tokenClaims
	keyFunc := func(*jwt.Token) (any, error) { return c.secret, nil }
	if _, err := jwt.ParseWithClaims(raw, &claims, keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})); err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{
		ActorID:     claims.Subject,
		Roles:       claims.Roles,
		Permissions: auth.Expand(claims.Roles, claims.Permissions),
		Source:      "jwt",
	}, nil
}

func (c credentials) fromAPIKey(ctx context.Context, key string) (Principal, error) {
	stored, err := c.keys.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	if stored.ActorID == "" {
		return Principal{}, fmt.Errorf("api key %s has no actor", stored.ID)
	}
	roles := []string{stored.Role}
	return Principal{
		ActorID:     stored.ActorID,
		Roles:       roles,
		Permissions: auth.Expand(roles, nil),
		Source:      "api_key",
	}, nil
}

// newAuthMiddleware attaches the caller's Principal to every request under basePath
// except the health check and the OpenAPI document.
func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	creds := credentials{keys: r}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		creds.secret = []byte(cfg.JWTSecret)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	public := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			principal, err := creds.resolve(req)
			switch {
			case errors.Is(err, errNoCredentials):
				writeAPIError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			case err != nil:
				logger.Debug("credentials rejected", "path", req.URL.Path, "err", err)
				writeAPIError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
			default:
				next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), principalKey{}, principal)))
			}
		})
	}
}

func writeAPIError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}

// SignToken mints an HS256 token for actorID carrying roles.
func SignToken(secret, actorID string, roles []string, claims jwt.RegisteredClaims) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims.Subject = actorID
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{RegisteredClaims: claims, Roles: roles})
	return tok.SignedString([]byte(secret))
}
