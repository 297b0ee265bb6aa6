package application

import (
	"context"
	"strings"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// AuthorizeRequest carries the parameters of an authorization request after
// the (out of scope) authentication layer has established the user
type AuthorizeRequest struct {
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeService creates grants at the authorization endpoint: code grants
// awaiting exchange and implicit grants issued directly
type AuthorizeService struct {
	clients  domain.ClientRepository
	registry domain.GrantRegistry
	factory  *TokenFactory
	cfg      *config.Config
	logger   *zap.Logger
}

// NewAuthorizeService creates an authorize service
func NewAuthorizeService(clients domain.ClientRepository, registry domain.GrantRegistry, factory *TokenFactory, cfg *config.Config, logger *zap.Logger) *AuthorizeService {
	return &AuthorizeService{
		clients:  clients,
		registry: registry,
		factory:  factory,
		cfg:      cfg,
		logger:   logger,
	}
}

// IssueAuthorizationCode validates the request and creates a code grant.
// The code is single-use: redemption goes through the registry's
// exactly-once consumption.
func (s *AuthorizeService) IssueAuthorizationCode(ctx context.Context, req AuthorizeRequest) (string, error) {
	client, err := s.validateRequest(ctx, req, domain.GrantTypeAuthorizationCode)
	if err != nil {
		return "", err
	}

	if req.CodeChallenge != "" {
		switch domain.CodeChallengeMethod(req.CodeChallengeMethod) {
		case domain.CodeChallengePlain, domain.CodeChallengeS256:
		default:
			return "", domain.ErrInvalidCodeChallengeMethod
		}
	}

	grant := &domain.Grant{
		ID:                  ulid.Make().String(),
		Type:                domain.GrantTypeAuthorizationCode,
		ClientID:            client.ID,
		UserID:              req.UserID,
		Scopes:              req.Scopes,
		State:               domain.GrantStateActive,
		CreatedAt:           time.Now(),
		Code:                ulid.Make().String(),
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
	}

	if err := s.registry.Register(ctx, grant); err != nil {
		s.logger.Error("Failed to register code grant", zap.Error(err))
		return "", domain.ErrInternal
	}

	s.logger.Debug("Authorization code issued",
		zap.String("client_id", client.ID),
		zap.String("user_id", req.UserID),
		zap.Strings("scopes", req.Scopes))
	return grant.Code, nil
}

// IssueImplicit creates an implicit grant and mints its access token in one
// step; there is no exchange
func (s *AuthorizeService) IssueImplicit(ctx context.Context, req AuthorizeRequest) (*domain.TokenPair, error) {
	client, err := s.validateRequest(ctx, req, domain.GrantTypeImplicit)
	if err != nil {
		return nil, err
	}

	grant := &domain.Grant{
		ID:        ulid.Make().String(),
		Type:      domain.GrantTypeImplicit,
		ClientID:  client.ID,
		UserID:    req.UserID,
		Scopes:    req.Scopes,
		State:     domain.GrantStateActive,
		CreatedAt: time.Now(),
		Nonce:     req.Nonce,
	}
	if err := s.registry.Register(ctx, grant); err != nil {
		return nil, domain.ErrInternal
	}

	access, err := s.factory.Mint(ctx, grant, domain.TokenKindAccess)
	if err != nil {
		return nil, err
	}

	pair := &domain.TokenPair{
		AccessToken: access.Value,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(access.ExpiresAt).Seconds()),
		Scope:       strings.Join(grant.Scopes, " "),
	}
	if grant.HasScope("openid") {
		idToken, err := s.factory.Mint(ctx, grant, domain.TokenKindID)
		if err != nil {
			return nil, err
		}
		pair.IDToken = idToken.Value
	}
	return pair, nil
}

// validateRequest checks client, grant type entitlement, redirect URI and
// scope containment
func (s *AuthorizeService) validateRequest(ctx context.Context, req AuthorizeRequest, gt domain.GrantType) (*domain.Client, error) {
	client, err := s.clients.FindClientByID(ctx, req.ClientID)
	if err != nil {
		s.logger.Error("Failed to find client", zap.String("client_id", req.ClientID), zap.Error(err))
		return nil, domain.ErrInvalidClient
	}
	if client.Disabled {
		return nil, domain.ErrDisabledClient
	}
	if !client.AllowsGrantType(gt) {
		return nil, domain.ErrUnauthorizedClient
	}
	if !client.AllowsRedirectURI(req.RedirectURI) {
		s.logger.Error("Invalid redirect URI",
			zap.String("client_id", req.ClientID),
			zap.String("redirect_uri", req.RedirectURI))
		return nil, domain.ErrInvalidRequest
	}
	for _, scope := range req.Scopes {
		allowed := false
		for _, s := range client.Scopes {
			if s == scope {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, domain.ErrInvalidScope
		}
	}
	return client, nil
}
