package bearer

import (
	"net/http"

	"github.com/go-chi/jwtauth/v5"
	"github.com/ipede/uma-auth-service/internal/domain"
	"go.uber.org/zap"
)

// Middleware verifies bearer JWTs against the server's signing key. It
// protects the authorization endpoint, the CIBA decision endpoints and the
// UMA protection API, where the bearer is a PAT.
type Middleware struct {
	tokenAuth *jwtauth.JWTAuth
	logger    *zap.Logger
}

// New creates a bearer token middleware over the active signing strategy
func New(signer domain.SigningStrategy, logger *zap.Logger) *Middleware {
	return &Middleware{
		tokenAuth: jwtauth.New(signer.Algorithm(), nil, signer.GetPublicKey()),
		logger:    logger,
	}
}

// Verifier extracts and parses the bearer token into the request context
func (m *Middleware) Verifier(next http.Handler) http.Handler {
	return jwtauth.Verifier(m.tokenAuth)(next)
}

// Authenticator rejects requests whose bearer token is missing or invalid
func (m *Middleware) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			m.logger.Debug("Bearer token rejected", zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="uma"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireScope rejects tokens whose scope claim does not include the
// named scope. The UMA protection API requires the uma_protection scope.
func (m *Middleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !scopeClaimContains(claims["scope"], scope) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func scopeClaimContains(claim interface{}, scope string) bool {
	s, ok := claim.(string)
	if !ok {
		return false
	}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if s[start:i] == scope {
				return true
			}
			start = i + 1
		}
	}
	return false
}
