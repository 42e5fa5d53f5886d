package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/probenet-io/probenet/pkg/types"
)

type contextKey string

const (
	contextKeyUser    contextKey = "user"
	contextKeyAgentID contextKey = "agent_id"
)

// usernameFromContext returns the authenticated username, or "" for agent
// requests.
func usernameFromContext(ctx context.Context) string {
	if claims, ok := ctx.Value(contextKeyUser).(*UserClaims); ok {
		return claims.Username
	}
	return ""
}

// claimsFromContext returns the authenticated user's claims, or nil for
// agent requests.
func claimsFromContext(ctx context.Context) *UserClaims {
	claims, _ := ctx.Value(contextKeyUser).(*UserClaims)
	return claims
}

// tenantScope returns the tenant id list queries must filter by. Agents,
// super-admins, and users without a tenant are unscoped.
func tenantScope(ctx context.Context) *int64 {
	claims := claimsFromContext(ctx)
	if claims == nil || claims.Role == types.RoleSuperAdmin {
		return nil
	}
	return claims.TenantID
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// agentAuth requires the static agent bearer token.
func (s *Server) agentAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.auth.agentToken)) != 1 {
			s.logger.Warn("agent auth failed",
				"path", r.URL.Path, "agent_id", r.Header.Get("X-Agent-ID"))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyAgentID, r.Header.Get("X-Agent-ID"))
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// userAuth requires a valid user access token.
func (s *Server) userAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseAccessToken(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUser, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// anyAuth accepts either credential. Agents and users both read system
// variables.
func (s *Server) anyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.auth.agentToken)) == 1 {
			ctx := context.WithValue(r.Context(), contextKeyAgentID, r.Header.Get("X-Agent-ID"))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if claims, err := s.auth.ParseAccessToken(token); err == nil {
			ctx := context.WithValue(r.Context(), contextKeyUser, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
}

// =============================================================================
// INGEST RATE LIMITING
// =============================================================================

// agentLimiters holds one token bucket per reporting agent.
type agentLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newAgentLimiters(perSecond float64, burst int) *agentLimiters {
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = int(perSecond) * 2
	}
	return &agentLimiters{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *agentLimiters) limiter(agentID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[agentID]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[agentID] = lim
	}
	return lim
}

// rateLimited bounds result ingest per agent.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := r.Header.Get("X-Agent-ID")
		if agentID == "" {
			agentID = r.RemoteAddr
		}
		if !s.limits.limiter(agentID).Allow() {
			s.logger.Warn("ingest rate limit exceeded", "agent_id", agentID)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	}
}
