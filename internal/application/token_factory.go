package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// TokenFactory mints tokens from grants. Access tokens, ID tokens and RPTs
// are JWT-formatted through the JOSE pipeline; refresh tokens and PCTs are
// opaque. Every minted token is attached to its grant and indexed in the
// registry so the value resolves to exactly one grant.
type TokenFactory struct {
	signer   domain.SigningStrategy
	registry domain.GrantRegistry
	cfg      *config.Config
	logger   *zap.Logger
}

// NewTokenFactory creates a token factory
func NewTokenFactory(signer domain.SigningStrategy, registry domain.GrantRegistry, cfg *config.Config, logger *zap.Logger) *TokenFactory {
	return &TokenFactory{
		signer:   signer,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Mint creates a token of the given kind from the grant, attaches it and
// indexes it. Expiration is creation time plus the kind's configured TTL.
func (f *TokenFactory) Mint(ctx context.Context, grant *domain.Grant, kind domain.TokenKind) (*domain.Token, error) {
	return f.MintScoped(ctx, grant, kind, nil)
}

// MintScoped mints like Mint but narrows the token's scope claim to the
// given set. The stored grant keeps its full scope set; narrowing binds a
// single mint, never the authorization.
func (f *TokenFactory) MintScoped(ctx context.Context, grant *domain.Grant, kind domain.TokenKind, scopes []string) (*domain.Token, error) {
	now := time.Now()
	token := &domain.Token{
		Kind:        kind,
		ReferenceID: ulid.Make().String(),
		GrantID:     grant.ID,
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(f.cfg.TokenDuration(string(kind))),
	}

	var err error
	switch kind {
	case domain.TokenKindAccess, domain.TokenKindRPT:
		claims := make(map[string]interface{})
		grant.FillAccessTokenClaims(claims, token, f.cfg.Issuer, scopes)
		token.Value, err = f.signer.Sign(claims)
	case domain.TokenKindID:
		claims := make(map[string]interface{})
		grant.FillIDTokenClaims(claims, token, f.cfg.Issuer)
		token.Value, err = f.signer.Sign(claims)
	default:
		token.Value, err = opaqueValue()
	}
	if err != nil {
		f.logger.Error("Failed to mint token",
			zap.String("kind", string(kind)),
			zap.String("grant_id", grant.ID),
			zap.Error(err))
		return nil, domain.ErrInternal
	}

	grant.AttachToken(domain.TokenRef{
		ReferenceID: token.ReferenceID,
		Kind:        kind,
		ExpiresAt:   token.ExpiresAt,
	})
	if err := f.registry.UpdateGrant(ctx, grant); err != nil {
		return nil, err
	}

	// ID tokens are not presented back to the server, so only the other
	// kinds enter the value index
	if kind != domain.TokenKindID {
		if err := f.registry.IndexToken(ctx, token); err != nil {
			return nil, err
		}
	}

	f.logger.Debug("Token minted",
		zap.String("kind", string(kind)),
		zap.String("reference_id", token.ReferenceID),
		zap.String("grant_id", grant.ID),
		zap.Time("expires_at", token.ExpiresAt))
	return token, nil
}

// opaqueValue produces an unguessable token value
func opaqueValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
