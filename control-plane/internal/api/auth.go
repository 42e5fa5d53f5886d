package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/probenet-io/probenet/control-plane/internal/config"
	"github.com/probenet-io/probenet/pkg/types"
)

const refreshCookieName = "probenet_refresh"

// UserClaims is the access token payload.
type UserClaims struct {
	UserID     int64  `json:"user_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	TenantID   *int64 `json:"tenant_id,omitempty"`
	TenantRole string `json:"tenant_role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies user tokens.
type Authenticator struct {
	agentToken string
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuthenticator creates an authenticator from auth config.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		agentToken: cfg.AgentToken,
		jwtSecret:  []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}
}

// IssueAccessToken signs an access token for the user.
func (a *Authenticator) IssueAccessToken(u *types.User) (string, error) {
	now := time.Now()
	claims := UserClaims{
		UserID:     u.ID,
		Username:   u.Username,
		Role:       u.Role,
		TenantID:   u.TenantID,
		TenantRole: u.TenantRole,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTTL)),
			Subject:   u.Username,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

// IssueRefreshToken signs a long-lived refresh token.
func (a *Authenticator) IssueRefreshToken(u *types.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.refreshTTL)),
		Subject:   u.Username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

// ParseAccessToken verifies an access token and returns its claims.
func (a *Authenticator) ParseAccessToken(token string) (*UserClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token")
	}
	parsed, err := jwt.ParseWithClaims(token, &UserClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*UserClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// parseRefreshToken verifies a refresh token and returns its subject.
func (a *Authenticator) parseRefreshToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}

	user, err := s.svc.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if user == nil {
		s.logger.Warn("login rejected", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	access, err := s.auth.IssueAccessToken(user)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	refresh, err := s.auth.IssueRefreshToken(user)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refresh,
		Path:     "/api/v1/auth",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(s.auth.refreshTTL.Seconds()),
	})

	s.logger.Info("user logged in", "username", user.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int(s.auth.accessTTL.Seconds()),
		"user":         user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	username, err := s.auth.parseRefreshToken(cookie.Value)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	user, err := s.svc.Store().GetUserByUsername(r.Context(), username)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if user == nil || user.Disabled {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}

	access, err := s.auth.IssueAccessToken(user)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int(s.auth.accessTTL.Seconds()),
	})
}
