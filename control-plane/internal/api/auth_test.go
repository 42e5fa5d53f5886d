package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/probenet-io/probenet/control-plane/internal/config"
	"github.com/probenet-io/probenet/pkg/types"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		AgentToken:      "pnet_agent_test",
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	}
}

func testServer() *Server {
	return &Server{
		auth:   NewAuthenticator(testAuthConfig()),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		limits: newAgentLimiters(50, 100),
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	auth := NewAuthenticator(testAuthConfig())
	tenant := int64(42)
	user := &types.User{ID: 7, Username: "ops", Role: "admin", TenantID: &tenant}

	token, err := auth.IssueAccessToken(user)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	claims, err := auth.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "ops" || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.TenantID == nil || *claims.TenantID != 42 {
		t.Errorf("tenant claim = %v, want 42", claims.TenantID)
	}
}

func TestAccessTokenWrongSecretRejected(t *testing.T) {
	auth := NewAuthenticator(testAuthConfig())
	token, err := auth.IssueAccessToken(&types.User{ID: 1, Username: "ops"})
	if err != nil {
		t.Fatal(err)
	}

	other := testAuthConfig()
	other.JWTSecret = "different"
	if _, err := NewAuthenticator(other).ParseAccessToken(token); err == nil {
		t.Fatal("token signed with another secret was accepted")
	}
}

func TestAccessTokenExpiryRejected(t *testing.T) {
	cfg := testAuthConfig()
	cfg.AccessTokenTTL = -time.Minute
	auth := NewAuthenticator(cfg)

	token, err := auth.IssueAccessToken(&types.User{ID: 1, Username: "ops"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.ParseAccessToken(token); err == nil {
		t.Fatal("expired token was accepted")
	}
}

func TestAgentAuthMiddleware(t *testing.T) {
	s := testServer()
	handler := s.agentAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"valid token", "pnet_agent_test", http.StatusOK},
		{"wrong token", "wrong", http.StatusUnauthorized},
		{"missing token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/results", nil)
			if tt.token != "" {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			handler(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestUserAuthMiddleware(t *testing.T) {
	s := testServer()
	handler := s.userAuth(func(w http.ResponseWriter, r *http.Request) {
		if usernameFromContext(r.Context()) != "ops" {
			t.Error("username missing from request context")
		}
		w.WriteHeader(http.StatusOK)
	})

	token, err := s.auth.IssueAccessToken(&types.User{ID: 1, Username: "ops"})
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("valid JWT rejected: %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	r.Header.Set("Authorization", "Bearer pnet_agent_test")
	w = httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("agent token accepted on a user route: %d", w.Code)
	}
}

func TestTenantScope(t *testing.T) {
	tenant := int64(42)
	tests := []struct {
		name   string
		claims *UserClaims
		want   *int64
	}{
		{"agent request is unscoped", nil, nil},
		{"tenant user is scoped to their tenant", &UserClaims{Role: "user", TenantID: &tenant}, &tenant},
		{"super admin sees every tenant", &UserClaims{Role: types.RoleSuperAdmin, TenantID: &tenant}, nil},
		{"user without a tenant is unscoped", &UserClaims{Role: "user"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.claims != nil {
				ctx = context.WithValue(ctx, contextKeyUser, tt.claims)
			}
			got := tenantScope(ctx)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("tenantScope = %d, want nil", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("tenantScope = %v, want %d", got, *tt.want)
			}
		})
	}
}

func TestIngestRateLimit(t *testing.T) {
	s := testServer()
	s.limits = newAgentLimiters(1, 2)

	handler := s.rateLimited(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/results", nil)
		r.Header.Set("X-Agent-ID", "agent-a")
		w := httptest.NewRecorder()
		handler(w, r)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated {
		t.Errorf("burst requests rejected: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request not limited: %v", codes)
	}

	// A different agent has its own bucket.
	r := httptest.NewRequest(http.MethodPost, "/api/v1/results", nil)
	r.Header.Set("X-Agent-ID", "agent-b")
	w := httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusCreated {
		t.Errorf("separate agent was limited: %d", w.Code)
	}
}
