package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/diagnosis/checkin-refunds/pkg/auth"
	"github.com/diagnosis/checkin-refunds/pkg/config"
	"github.com/diagnosis/checkin-refunds/pkg/logger"
	"github.com/diagnosis/checkin-refunds/services/attendance/internal/service"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	tokens      service.TokenService
	checkIns    service.CheckInService
	settlements service.SettlementService
	config      *config.Config
}

func New(tokens service.TokenService, checkIns service.CheckInService, settlements service.SettlementService, cfg *config.Config) *Handlers {
	return &Handlers{
		tokens:      tokens,
		checkIns:    checkIns,
		settlements: settlements,
		config:      cfg,
	}
}

type ctxKey string

const claimsKey ctxKey = "claims"

// RequireJWT authenticates the bearer token. An empty role admits any
// authenticated caller; RoleStaff also admits admins.
func (h *Handlers) RequireJWT(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header", CodeUnauthorized)
				return
			}

			claims, err := auth.Parse(strings.TrimPrefix(authHeader, "Bearer "), h.config.Auth.JWTSecret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token", CodeUnauthorized)
				return
			}

			if !hasRole(claims, requiredRole) {
				writeError(w, http.StatusForbidden, "Insufficient permissions", CodeForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), logger.UserIDKey, claims.Sub)
			ctx = context.WithValue(ctx, logger.RoleKey, claims.Role)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasRole(claims *auth.Claims, role string) bool {
	switch role {
	case "":
		return true
	case auth.RoleStaff:
		return claims.IsStaff()
	default:
		return claims.Role == role || claims.Role == auth.RoleAdmin
	}
}

func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// CallerID scopes idempotency keys to the authenticated user.
func CallerID(r *http.Request) string {
	if claims := getClaims(r); claims != nil {
		return strconv.FormatInt(claims.Sub, 10)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
