package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a private type for context keys in the api package.
type contextKey string

const claimsKey contextKey = "claims"

// Claims returns the verified token claims from ctx, or nil when the request
// was not authenticated.
func Claims(ctx context.Context) jwt.MapClaims {
	c, _ := ctx.Value(claimsKey).(jwt.MapClaims)
	return c
}

var errTenantMismatch = errors.New("token is not valid for this tenant")

// cors rejects browser requests from origins outside the allow-list.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !slices.Contains(h.cfg.AllowedOrigins, origin) {
			slog.Debug("api: origin rejected", "origin", origin, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}

		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", origin)
		hdr.Set("Access-Control-Allow-Credentials", "true")
		hdr.Add("Vary", "Origin")
		next.ServeHTTP(w, r)
	})
}

func preflight(w http.ResponseWriter, _ *http.Request) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// authenticate verifies the bearer token when a JWT secret is configured.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	if h.cfg.JWTSecret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := h.parseToken(token)
		if err != nil {
			slog.Debug("api: token rejected", slogKeyError, err)
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		if err := h.checkTenant(claims, r.PathValue("tenant")); err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// parseToken parses and validates an HS256 token.
func (h *Handler) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(h.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

// checkTenant enforces the tenant claim. When a tenant claim is configured,
// routes without a tenant in the path are forbidden.
func (h *Handler) checkTenant(claims jwt.MapClaims, tenantID string) error {
	if h.cfg.TenantClaim == "" {
		return nil
	}
	if tenantID == "" {
		return errTenantMismatch
	}
	got, _ := claims[h.cfg.TenantClaim].(string)
	if got != tenantID {
		return errTenantMismatch
	}
	return nil
}
