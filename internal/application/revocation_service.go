package application

import (
	"context"

	"github.com/ipede/uma-auth-service/internal/domain"
	"go.uber.org/zap"
)

// RevocationService implements RFC 7009 token revocation plus subject-wide
// revocation
type RevocationService struct {
	registry domain.GrantRegistry
	logger   *zap.Logger
}

// NewRevocationService creates a revocation service
func NewRevocationService(registry domain.GrantRegistry, logger *zap.Logger) *RevocationService {
	return &RevocationService{registry: registry, logger: logger}
}

// Revoke revokes the grant behind a token value. Per RFC 7009 an unknown
// token revokes successfully; the endpoint never confirms token existence.
func (s *RevocationService) Revoke(ctx context.Context, client *domain.Client, tokenValue string) error {
	_, grant, err := s.registry.LookupByToken(ctx, tokenValue)
	if err != nil {
		return nil
	}
	if grant.ClientID != client.ID {
		s.logger.Warn("Revocation attempted by foreign client",
			zap.String("client_id", client.ID),
			zap.String("grant_client_id", grant.ClientID))
		return nil
	}
	if err := s.registry.Revoke(ctx, tokenValue); err != nil {
		s.logger.Error("Failed to revoke grant", zap.String("grant_id", grant.ID), zap.Error(err))
		return domain.ErrInternal
	}
	s.logger.Info("Grant revoked", zap.String("grant_id", grant.ID), zap.String("client_id", client.ID))
	return nil
}

// RevokeAllForSubject invalidates every live token of a subject at once.
// Tokens minted before the call fail lookup immediately, even where the
// per-token cleanup is still in flight.
func (s *RevocationService) RevokeAllForSubject(ctx context.Context, subject string) error {
	if subject == "" {
		return domain.ErrInvalidRequest
	}
	if err := s.registry.RevokeAllForSubject(ctx, subject); err != nil {
		s.logger.Error("Failed to revoke subject tokens", zap.String("sub", subject), zap.Error(err))
		return domain.ErrInternal
	}
	s.logger.Info("All tokens revoked for subject", zap.String("sub", subject))
	return nil
}
