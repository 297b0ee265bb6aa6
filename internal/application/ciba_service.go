package application

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// BackchannelNotifier delivers CIBA ping callbacks to a client's
// notification endpoint
type BackchannelNotifier interface {
	NotifyAuthResult(ctx context.Context, client *domain.Client, authReqID string) error
}

// BackchannelAuthRequest starts a CIBA flow
type BackchannelAuthRequest struct {
	ClientID                string
	Scope                   string
	LoginHint               string
	ClientNotificationToken string
	BindingMessage          string
}

// BackchannelAuthResponse is the wire response to a backchannel
// authentication request
type BackchannelAuthResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int64  `json:"expires_in"`
	Interval  int64  `json:"interval"`
}

// CibaService drives the backchannel authentication lifecycle: request
// creation, the out-of-band approval decision and client notification.
type CibaService struct {
	clients  domain.ClientRepository
	registry domain.GrantRegistry
	notifier BackchannelNotifier
	cfg      *config.Config
	logger   *zap.Logger
}

// NewCibaService creates a CIBA service. The notifier may be nil for
// poll-only deployments.
func NewCibaService(clients domain.ClientRepository, registry domain.GrantRegistry, notifier BackchannelNotifier, cfg *config.Config, logger *zap.Logger) *CibaService {
	return &CibaService{
		clients:  clients,
		registry: registry,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// StartAuthentication creates a pending backchannel grant and hands back
// the auth_req_id the client polls with
func (s *CibaService) StartAuthentication(ctx context.Context, req *BackchannelAuthRequest) (*BackchannelAuthResponse, error) {
	client, err := s.clients.FindClientByID(ctx, req.ClientID)
	if err != nil {
		return nil, domain.ErrInvalidClient
	}
	if client.Disabled {
		return nil, domain.ErrDisabledClient
	}
	if !client.AllowsGrantType(domain.GrantTypeCIBA) {
		return nil, domain.ErrUnauthorizedClient
	}
	if req.LoginHint == "" {
		return nil, domain.ErrInvalidRequest
	}
	if !s.notificationTokenMatches(client, req.ClientNotificationToken) {
		s.logger.Warn("Backchannel request with bad notification token", zap.String("client_id", client.ID))
		return nil, domain.ErrInvalidClient
	}

	scopes := parseScope(req.Scope)
	for _, scope := range scopes {
		if !contains(client.Scopes, scope) {
			return nil, domain.ErrInvalidScope
		}
	}

	grant := &domain.Grant{
		ID:         ulid.Make().String(),
		Type:       domain.GrantTypeCIBA,
		ClientID:   client.ID,
		UserID:     req.LoginHint,
		Scopes:     scopes,
		State:      domain.GrantStateActive,
		CreatedAt:  time.Now(),
		AuthReqID:  ulid.Make().String(),
		CibaStatus: domain.CibaStatusPending,
		CibaExpiry: time.Now().Add(s.cfg.CibaRequestDuration),
	}
	if err := s.registry.Register(ctx, grant); err != nil {
		s.logger.Error("Failed to register backchannel grant", zap.Error(err))
		return nil, domain.ErrInternal
	}

	s.logger.Info("Backchannel authentication started",
		zap.String("client_id", client.ID),
		zap.String("auth_req_id", grant.AuthReqID),
		zap.String("login_hint", req.LoginHint))
	return &BackchannelAuthResponse{
		AuthReqID: grant.AuthReqID,
		ExpiresIn: int64(s.cfg.CibaRequestDuration.Seconds()),
		Interval:  5,
	}, nil
}

// Approve records the user's consent decision and pings the client
func (s *CibaService) Approve(ctx context.Context, authReqID, userID string) error {
	return s.decide(ctx, authReqID, userID, domain.CibaStatusApproved)
}

// Deny records the user's refusal and pings the client
func (s *CibaService) Deny(ctx context.Context, authReqID, userID string) error {
	return s.decide(ctx, authReqID, userID, domain.CibaStatusDenied)
}

func (s *CibaService) decide(ctx context.Context, authReqID, userID string, status domain.CibaStatus) error {
	grant, err := s.registry.LookupByAuthReqID(ctx, authReqID)
	if err != nil {
		return domain.ErrGrantNotFound
	}
	if userID != "" && grant.UserID != userID {
		return domain.ErrAccessDenied
	}
	if grant.CibaStatus != domain.CibaStatusPending {
		return domain.ErrInvalidGrant
	}
	if time.Now().After(grant.CibaExpiry) {
		grant.CibaStatus = domain.CibaStatusExpired
		_ = s.registry.UpdateGrant(ctx, grant)
		return domain.ErrTokenExpired
	}

	grant.CibaStatus = status
	if err := s.registry.UpdateGrant(ctx, grant); err != nil {
		return domain.ErrInternal
	}
	s.logger.Info("Backchannel authentication decided",
		zap.String("auth_req_id", authReqID),
		zap.String("status", string(status)))

	s.notify(ctx, grant)
	return nil
}

// notify pings the client's notification endpoint; delivery is best-effort
// and the client falls back to polling
func (s *CibaService) notify(ctx context.Context, grant *domain.Grant) {
	if s.notifier == nil {
		return
	}
	client, err := s.clients.FindClientByID(ctx, grant.ClientID)
	if err != nil || client.NotificationEndpoint == "" {
		return
	}
	if err := s.notifier.NotifyAuthResult(ctx, client, grant.AuthReqID); err != nil {
		s.logger.Warn("Backchannel notification failed",
			zap.String("client_id", client.ID),
			zap.Error(err))
	}
}

// notificationTokenMatches compares the presented token against the
// registered one in constant time so the comparison leaks no prefix
// length through timing
func (s *CibaService) notificationTokenMatches(client *domain.Client, presented string) bool {
	if client.NotificationToken == "" {
		return presented == ""
	}
	return subtle.ConstantTimeCompare([]byte(client.NotificationToken), []byte(presented)) == 1
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
