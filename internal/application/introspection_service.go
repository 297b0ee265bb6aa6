package application

import (
	"context"
	"strings"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"go.uber.org/zap"
)

// Introspection is the RFC 7662 response body. Permissions are present
// only for active RPTs.
type Introspection struct {
	Active      bool                     `json:"active"`
	Scope       string                   `json:"scope,omitempty"`
	ClientID    string                   `json:"client_id,omitempty"`
	Sub         string                   `json:"sub,omitempty"`
	TokenType   string                   `json:"token_type,omitempty"`
	Exp         int64                    `json:"exp,omitempty"`
	Iat         int64                    `json:"iat,omitempty"`
	Permissions []map[string]interface{} `json:"permissions,omitempty"`
}

// IntrospectionService resolves token values to their live grant state
type IntrospectionService struct {
	registry domain.GrantRegistry
	logger   *zap.Logger
}

// NewIntrospectionService creates an introspection service
func NewIntrospectionService(registry domain.GrantRegistry, logger *zap.Logger) *IntrospectionService {
	return &IntrospectionService{registry: registry, logger: logger}
}

// Introspect reports the state of a token. Unknown, expired and revoked
// tokens all introspect as inactive; no claims leak for an inactive token.
func (s *IntrospectionService) Introspect(ctx context.Context, tokenValue string) *Introspection {
	token, grant, err := s.registry.LookupByToken(ctx, tokenValue)
	if err != nil {
		return &Introspection{Active: false}
	}
	if token.Expired(time.Now()) {
		return &Introspection{Active: false}
	}

	scopes := grant.Scopes
	if len(token.Scopes) > 0 {
		scopes = token.Scopes
	}

	result := &Introspection{
		Active:    true,
		Scope:     strings.Join(scopes, " "),
		ClientID:  grant.ClientID,
		Sub:       grant.UserID,
		TokenType: string(token.Kind),
		Exp:       token.ExpiresAt.Unix(),
		Iat:       token.CreatedAt.Unix(),
	}
	if token.Kind == domain.TokenKindRPT {
		for _, p := range grant.Permissions {
			result.Permissions = append(result.Permissions, p.AsClaim())
		}
	}
	return result
}
