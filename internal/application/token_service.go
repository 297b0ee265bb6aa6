package application

import (
	"context"
	"strings"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	"github.com/ipede/uma-auth-service/internal/infrastructure/pkce"
	"github.com/ipede/uma-auth-service/internal/infrastructure/secret"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// TokenRequest carries the token endpoint parameters across all grant types
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// Authorization code grant
	Code         string
	RedirectURI  string
	CodeVerifier string

	// Refresh token grant
	RefreshToken string

	// Requested scope, space separated; empty keeps the grant's scope set
	Scope string

	// UMA ticket grant
	Ticket           string
	ClaimToken       string
	ClaimTokenFormat string
	PCT              string
	RPT              string

	// CIBA grant
	AuthReqID string
}

// TokenService is the grant state machine behind the token endpoint: it
// authenticates the client, dispatches on grant type and drives the token
// factory. All state lives in the grant registry; the service itself is a
// pure function over its inputs.
type TokenService struct {
	clients  domain.ClientRepository
	registry domain.GrantRegistry
	factory  *TokenFactory
	uma      *UmaService
	cfg      *config.Config
	logger   *zap.Logger
}

// NewTokenService creates a token service
func NewTokenService(clients domain.ClientRepository, registry domain.GrantRegistry, factory *TokenFactory, uma *UmaService, cfg *config.Config, logger *zap.Logger) *TokenService {
	return &TokenService{
		clients:  clients,
		registry: registry,
		factory:  factory,
		uma:      uma,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleTokenRequest processes a token endpoint request. For the UMA ticket
// grant a non-nil NeedInfo is the structured continuation, not an error.
func (s *TokenService) HandleTokenRequest(ctx context.Context, req TokenRequest) (*domain.TokenPair, *domain.NeedInfo, error) {
	grantType, err := domain.ParseGrantType(req.GrantType)
	if err != nil {
		s.logger.Warn("Unknown grant type requested", zap.String("grant_type", req.GrantType))
		return nil, nil, err
	}

	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if !client.AllowsGrantType(grantType) {
		s.logger.Warn("Client not entitled to grant type",
			zap.String("client_id", client.ID),
			zap.String("grant_type", string(grantType)))
		return nil, nil, domain.ErrUnauthorizedClient
	}

	switch grantType {
	case domain.GrantTypeAuthorizationCode:
		pair, err := s.exchangeAuthorizationCode(ctx, client, req)
		return pair, nil, err
	case domain.GrantTypeRefreshToken:
		pair, err := s.refreshAccessToken(ctx, client, req)
		return pair, nil, err
	case domain.GrantTypeClientCredentials:
		pair, err := s.clientCredentials(ctx, client, req)
		return pair, nil, err
	case domain.GrantTypeCIBA:
		pair, err := s.pollBackchannel(ctx, client, req)
		return pair, nil, err
	case domain.GrantTypeUmaTicket:
		return s.uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket:           req.Ticket,
			ClaimToken:       req.ClaimToken,
			ClaimTokenFormat: req.ClaimTokenFormat,
			PCT:              req.PCT,
			RPT:              req.RPT,
			Scope:            req.Scope,
		})
	}
	// Implicit grants are issued at the authorization endpoint; there is
	// nothing to exchange here
	return nil, nil, domain.ErrUnsupportedGrantType
}

// AuthenticateClient resolves and authenticates a client by its token
// endpoint credentials. Endpoints outside the token endpoint share it.
func (s *TokenService) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	return s.authenticateClient(ctx, TokenRequest{ClientID: clientID, ClientSecret: clientSecret})
}

// authenticateClient resolves and authenticates the requesting client
func (s *TokenService) authenticateClient(ctx context.Context, req TokenRequest) (*domain.Client, error) {
	if req.ClientID == "" {
		return nil, domain.ErrInvalidRequest
	}

	client, err := s.clients.FindClientByID(ctx, req.ClientID)
	if err != nil {
		s.logger.Warn("Client authentication failed", zap.String("client_id", req.ClientID))
		return nil, domain.ErrInvalidClient
	}
	if client.Disabled {
		s.logger.Warn("Disabled client attempted token request", zap.String("client_id", client.ID))
		return nil, domain.ErrDisabledClient
	}

	if client.AuthMethod != domain.AuthMethodNone {
		if req.ClientSecret == "" {
			return nil, domain.ErrInvalidClient
		}
		if err := secret.CheckSecret(req.ClientSecret, client.SecretHash); err != nil {
			s.logger.Warn("Client secret mismatch", zap.String("client_id", client.ID))
			return nil, domain.ErrInvalidClient
		}
	}
	return client, nil
}

// exchangeAuthorizationCode redeems a code exactly once and mints the
// access/refresh/ID token set
func (s *TokenService) exchangeAuthorizationCode(ctx context.Context, client *domain.Client, req TokenRequest) (*domain.TokenPair, error) {
	if req.Code == "" {
		return nil, domain.ErrInvalidRequest
	}

	grant, err := s.registry.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	if grant.ClientID != client.ID {
		s.logger.Warn("Code presented by a different client",
			zap.String("grant_client", grant.ClientID),
			zap.String("caller", client.ID))
		return nil, domain.ErrInvalidGrant
	}
	if grant.RedirectURI != "" && grant.RedirectURI != req.RedirectURI {
		return nil, domain.ErrInvalidGrant
	}
	if grant.CodeChallenge != "" {
		if !pkce.Validate(req.CodeVerifier, grant.CodeChallenge, domain.CodeChallengeMethod(grant.CodeChallengeMethod)) {
			s.logger.Warn("PKCE verification failed", zap.String("client_id", client.ID))
			return nil, domain.ErrInvalidGrant
		}
	}

	scopes, err := grant.NarrowScopes(parseScope(req.Scope))
	if err != nil {
		return nil, err
	}

	return s.mintPair(ctx, grant, true, scopes)
}

// refreshAccessToken mints a new access token from a refresh token,
// rotating the refresh token when the client's policy calls for it
func (s *TokenService) refreshAccessToken(ctx context.Context, client *domain.Client, req TokenRequest) (*domain.TokenPair, error) {
	if req.RefreshToken == "" {
		return nil, domain.ErrInvalidRequest
	}

	token, grant, err := s.registry.LookupByToken(ctx, req.RefreshToken)
	if err != nil || token.Kind != domain.TokenKindRefresh {
		return nil, domain.ErrInvalidGrant
	}
	if grant.ClientID != client.ID {
		return nil, domain.ErrInvalidGrant
	}

	scopes, err := grant.NarrowScopes(parseScope(req.Scope))
	if err != nil {
		return nil, err
	}

	access, err := s.factory.MintScoped(ctx, grant, domain.TokenKindAccess, scopes)
	if err != nil {
		return nil, err
	}

	pair := &domain.TokenPair{
		AccessToken: access.Value,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(access.ExpiresAt).Seconds()),
		Scope:       strings.Join(scopes, " "),
	}

	if client.RotateRefreshTokens {
		if err := s.registry.Revoke(ctx, req.RefreshToken); err != nil {
			return nil, err
		}
		refresh, err := s.factory.Mint(ctx, grant, domain.TokenKindRefresh)
		if err != nil {
			return nil, err
		}
		pair.RefreshToken = refresh.Value
	}
	return pair, nil
}

// clientCredentials creates a stateless grant with no user subject; grant
// and token expire together
func (s *TokenService) clientCredentials(ctx context.Context, client *domain.Client, req TokenRequest) (*domain.TokenPair, error) {
	scopes := parseScope(req.Scope)
	if len(scopes) == 0 {
		scopes = client.Scopes
	} else {
		for _, scope := range scopes {
			allowed := false
			for _, cs := range client.Scopes {
				if cs == scope {
					allowed = true
					break
				}
			}
			if !allowed {
				return nil, domain.ErrInvalidScope
			}
		}
	}

	grant := &domain.Grant{
		ID:        ulid.Make().String(),
		Type:      domain.GrantTypeClientCredentials,
		ClientID:  client.ID,
		Scopes:    scopes,
		State:     domain.GrantStateActive,
		CreatedAt: time.Now(),
	}
	if err := s.registry.Register(ctx, grant); err != nil {
		return nil, domain.ErrInternal
	}

	access, err := s.factory.Mint(ctx, grant, domain.TokenKindAccess)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken: access.Value,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(access.ExpiresAt).Seconds()),
		Scope:       strings.Join(scopes, " "),
	}, nil
}

// pollBackchannel resolves a CIBA auth_req_id and reports its state; tokens
// are released only once after approval
func (s *TokenService) pollBackchannel(ctx context.Context, client *domain.Client, req TokenRequest) (*domain.TokenPair, error) {
	if req.AuthReqID == "" {
		return nil, domain.ErrInvalidRequest
	}

	grant, err := s.registry.LookupByAuthReqID(ctx, req.AuthReqID)
	if err != nil {
		return nil, domain.ErrInvalidGrant
	}
	if grant.ClientID != client.ID {
		return nil, domain.ErrInvalidGrant
	}

	switch grant.CibaStatus {
	case domain.CibaStatusPending:
		if time.Now().After(grant.CibaExpiry) {
			return nil, domain.ErrInvalidGrant
		}
		return nil, domain.ErrAuthorizationPending
	case domain.CibaStatusDenied:
		return nil, domain.ErrAccessDenied
	case domain.CibaStatusExpired:
		return nil, domain.ErrInvalidGrant
	case domain.CibaStatusApproved:
		if grant.State != domain.GrantStateActive {
			return nil, domain.ErrInvalidGrant
		}
		grant.State = domain.GrantStateConsumed
		if err := s.registry.UpdateGrant(ctx, grant); err != nil {
			return nil, domain.ErrInternal
		}
		return s.mintPair(ctx, grant, true, nil)
	}
	return nil, domain.ErrInvalidGrant
}

// mintPair mints the access token, a refresh token and, when the grant
// carries the openid scope and a user, an ID token. scopes narrows the
// access token only; nil keeps the grant's full set.
func (s *TokenService) mintPair(ctx context.Context, grant *domain.Grant, withRefresh bool, scopes []string) (*domain.TokenPair, error) {
	if len(scopes) == 0 {
		scopes = grant.Scopes
	}

	access, err := s.factory.MintScoped(ctx, grant, domain.TokenKindAccess, scopes)
	if err != nil {
		return nil, err
	}

	pair := &domain.TokenPair{
		AccessToken: access.Value,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(access.ExpiresAt).Seconds()),
		Scope:       strings.Join(scopes, " "),
	}

	if withRefresh {
		refresh, err := s.factory.Mint(ctx, grant, domain.TokenKindRefresh)
		if err != nil {
			return nil, err
		}
		pair.RefreshToken = refresh.Value
	}

	if grant.HasUser() && grant.HasScope("openid") {
		idToken, err := s.factory.Mint(ctx, grant, domain.TokenKindID)
		if err != nil {
			return nil, err
		}
		pair.IDToken = idToken.Value
	}
	return pair, nil
}

func parseScope(scope string) []string {
	return strings.Fields(scope)
}
