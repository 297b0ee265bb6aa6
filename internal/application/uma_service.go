package application

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	"github.com/ipede/uma-auth-service/internal/infrastructure/policy"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	resourceKeyPrefix   = "umaresource:"
	ticketKeyPrefix     = "ticket:"
	ticketUsedKeyPrefix = "ticketused:"
	pctKeyPrefix        = "pct:"

	// ClaimTokenFormatJWT is the claim_token_format for a JWT issued by this server
	ClaimTokenFormatJWT = "urn:ietf:params:oauth:token-type:jwt"
	// ClaimTokenFormatJSON is base64url-encoded plain JSON claims
	ClaimTokenFormatJSON = "urn:uma:claim-token-format:json"
)

// RptRequest carries the UMA ticket grant parameters
type RptRequest struct {
	Ticket           string
	ClaimToken       string
	ClaimTokenFormat string
	PCT              string
	RPT              string
	Scope            string
}

// GatherResult reports the outcome of one claims-gathering step
type GatherResult struct {
	// Done is true once the flow reached its terminal step
	Done bool
	// Ticket is the rotated ticket to redeem at the token endpoint; set only when Done
	Ticket string
	// NextPage names the page for the next step; set while not Done
	NextPage string
	// NextStep is the step index the caller should submit next
	NextStep int
}

// UmaService implements the UMA 2.0 protection and authorization API:
// resource registration, permission tickets, the RPT/policy engine and the
// interactive claims-gathering sub-flow.
type UmaService struct {
	store     domain.EntryStore
	registry  domain.GrantRegistry
	factory   *TokenFactory
	policies  *policy.Registry
	signer    domain.SigningStrategy
	encrypter domain.Encrypter
	cfg       *config.Config
	logger    *zap.Logger
}

// NewUmaService creates a UMA service
func NewUmaService(store domain.EntryStore, registry domain.GrantRegistry, factory *TokenFactory, policies *policy.Registry, signer domain.SigningStrategy, encrypter domain.Encrypter, cfg *config.Config, logger *zap.Logger) *UmaService {
	return &UmaService{
		store:     store,
		registry:  registry,
		factory:   factory,
		policies:  policies,
		signer:    signer,
		encrypter: encrypter,
		cfg:       cfg,
		logger:    logger,
	}
}

// RegisterResource registers a protected resource. Registration is
// idempotent on id: re-registering replaces the description.
func (s *UmaService) RegisterResource(ctx context.Context, resource *domain.UmaResource) (*domain.UmaResource, error) {
	if resource.Name == "" || len(resource.Scopes) == 0 {
		return nil, domain.ErrInvalidRequest
	}
	if resource.ID == "" {
		resource.ID = ulid.Make().String()
	}

	raw, err := json.Marshal(resource)
	if err != nil {
		return nil, domain.ErrInternal
	}
	if err := s.store.Put(ctx, resourceKeyPrefix+resource.ID, raw, 0); err != nil {
		s.logger.Error("Failed to store resource", zap.String("resource_id", resource.ID), zap.Error(err))
		return nil, domain.ErrInternal
	}

	s.logger.Info("UMA resource registered",
		zap.String("resource_id", resource.ID),
		zap.String("name", resource.Name),
		zap.Strings("scopes", resource.Scopes))
	return resource, nil
}

// GetResource returns a registered resource
func (s *UmaService) GetResource(ctx context.Context, id string) (*domain.UmaResource, error) {
	raw, err := s.store.Get(ctx, resourceKeyPrefix+id)
	if err != nil {
		return nil, domain.ErrResourceNotFound
	}
	resource := &domain.UmaResource{}
	if err := json.Unmarshal(raw, resource); err != nil {
		return nil, domain.ErrInternal
	}
	return resource, nil
}

// DeleteResource removes a registered resource
func (s *UmaService) DeleteResource(ctx context.Context, id string) error {
	if _, err := s.GetResource(ctx, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, resourceKeyPrefix+id)
}

// RegisterPermission validates the requested permissions and issues a
// ticket. An unknown resource or a scope the resource does not expose fails
// without creating anything; there is no created-but-unusable ticket.
func (s *UmaService) RegisterPermission(ctx context.Context, permissions []domain.Permission) (string, error) {
	if len(permissions) == 0 {
		return "", domain.ErrInvalidRequest
	}
	for _, p := range permissions {
		resource, err := s.GetResource(ctx, p.ResourceID)
		if err != nil {
			s.logger.Warn("Permission requested for unknown resource", zap.String("resource_id", p.ResourceID))
			return "", domain.ErrResourceNotFound
		}
		if len(p.Scopes) == 0 {
			return "", domain.ErrInvalidRequest
		}
		for _, scope := range p.Scopes {
			if !resource.HasScope(scope) {
				return "", domain.ErrInvalidScope
			}
		}
	}

	ticket := &domain.PermissionTicket{
		Permissions: permissions,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(s.cfg.PermissionTicketDuration),
	}
	value, err := s.storeTicket(ctx, ticket)
	if err != nil {
		return "", err
	}

	s.logger.Debug("Permission ticket issued", zap.Int("permissions", len(permissions)))
	return value, nil
}

// ExchangeTicket runs the RPT request: consume the ticket, assemble the
// claims, evaluate every policy attached to every requested scope and
// either mint the RPT or return the need_info continuation.
func (s *UmaService) ExchangeTicket(ctx context.Context, client *domain.Client, req RptRequest) (*domain.TokenPair, *domain.NeedInfo, error) {
	if req.Ticket == "" {
		return nil, nil, domain.ErrInvalidRequest
	}

	ticket, err := s.consumeTicket(ctx, req.Ticket)
	if err != nil {
		return nil, nil, err
	}

	if requested := parseScope(req.Scope); len(requested) > 0 {
		narrowed, err := narrowPermissions(ticket.Permissions, requested)
		if err != nil {
			return nil, nil, err
		}
		ticket.Permissions = narrowed
	}

	pctx := &domain.PolicyContext{
		Client:      client,
		Permissions: ticket.Permissions,
		Claims:      make(map[string]interface{}),
	}
	for name, value := range ticket.GatheredClaims {
		pctx.Claims[name] = value
	}
	if req.PCT != "" {
		s.loadPersistedClaims(ctx, req.PCT, pctx)
	}
	if req.ClaimToken != "" {
		if err := s.parseClaimToken(req.ClaimToken, req.ClaimTokenFormat, pctx); err != nil {
			return nil, nil, err
		}
	}

	needInfo, err := s.evaluatePolicies(ctx, ticket, pctx)
	if err != nil {
		return nil, nil, err
	}
	if needInfo != nil {
		if err := s.rotateForNeedInfo(ctx, ticket, pctx, needInfo); err != nil {
			return nil, nil, err
		}
		return nil, needInfo, nil
	}

	permissions := grantedPermissions(ticket, time.Now().Add(s.cfg.RPTDuration))
	if req.RPT != "" {
		permissions = s.mergeExtendedRPT(ctx, req.RPT, permissions)
	}

	grant := &domain.Grant{
		ID:          ulid.Make().String(),
		Type:        domain.GrantTypeUmaTicket,
		ClientID:    client.ID,
		UserID:      subjectFromClaims(pctx.Claims),
		Scopes:      scopesOf(permissions),
		State:       domain.GrantStateActive,
		CreatedAt:   time.Now(),
		Permissions: permissions,
	}
	if err := s.registry.Register(ctx, grant); err != nil {
		return nil, nil, domain.ErrInternal
	}

	rpt, err := s.factory.Mint(ctx, grant, domain.TokenKindRPT)
	if err != nil {
		return nil, nil, err
	}

	pair := &domain.TokenPair{
		AccessToken: rpt.Value,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(rpt.ExpiresAt).Seconds()),
	}
	if len(pctx.Claims) > 0 {
		if pct, err := s.persistClaims(ctx, pctx.Claims); err == nil {
			pair.PCT = pct
		}
	}

	s.logger.Info("RPT issued",
		zap.String("client_id", client.ID),
		zap.Int("permissions", len(permissions)))
	return pair, nil, nil
}

// Gather runs one step of the interactive claims-gathering sub-flow. The
// ticket is not consumed; its stored state accumulates the gathered claims
// until the terminal step rotates it for redemption.
func (s *UmaService) Gather(ctx context.Context, ticketValue, gathererName string, params map[string]string) (*GatherResult, error) {
	gatherer := s.policies.Gatherer(gathererName)
	if gatherer == nil {
		return nil, domain.ErrInvalidRequest
	}

	ticket, err := s.getTicket(ctx, ticketValue)
	if err != nil {
		return nil, err
	}

	pctx := &domain.PolicyContext{
		Permissions: ticket.Permissions,
		Claims:      ticket.GatheredClaims,
	}
	if pctx.Claims == nil {
		pctx.Claims = make(map[string]interface{})
	}

	step := ticket.GatheringStep
	if err := gatherer.PrepareForStep(ctx, step, pctx); err != nil {
		return nil, err
	}
	ok, err := gatherer.Gather(ctx, step, params, pctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Claim not supplied; stay on the same step
		return &GatherResult{NextStep: step, NextPage: gatherer.PageForStep(step, pctx)}, nil
	}

	next := gatherer.NextStep(step, pctx)
	ticket.GatheredClaims = pctx.Claims
	if next == -1 {
		// Terminal step: rotate the ticket so the client redeems a fresh,
		// claim-bearing handle at the token endpoint
		rotated, err := s.rotateTicket(ctx, ticket)
		if err != nil {
			return nil, err
		}
		return &GatherResult{Done: true, Ticket: rotated}, nil
	}

	ticket.GatheringStep = next
	if err := s.updateTicket(ctx, ticketValue, ticket); err != nil {
		return nil, err
	}
	return &GatherResult{NextStep: next, NextPage: gatherer.PageForStep(next, pctx)}, nil
}

// evaluatePolicies runs every policy of every requested scope. All policies
// attached to a scope must authorize (logical AND); a scope with no policy
// is granted by default. A non-nil NeedInfo means unmet required claims.
func (s *UmaService) evaluatePolicies(ctx context.Context, ticket *domain.PermissionTicket, pctx *domain.PolicyContext) (*domain.NeedInfo, error) {
	var unmet []domain.ClaimDefinition
	gatheringScript := ""

	for _, permission := range ticket.Permissions {
		for _, scope := range permission.Scopes {
			for _, p := range s.policies.PoliciesFor(scope) {
				missing := p.RequiredClaims(ctx, pctx)
				if len(missing) > 0 {
					unmet = appendMissing(unmet, missing)
					if gatheringScript == "" {
						gatheringScript = p.ClaimsGatheringScriptName()
					}
					continue
				}
				authorized, err := p.Authorize(ctx, pctx)
				if err != nil {
					s.logger.Error("Policy evaluation failed",
						zap.String("policy", p.Name()),
						zap.String("scope", scope),
						zap.Error(err))
					return nil, domain.ErrInternal
				}
				if !authorized {
					s.logger.Info("Policy denied scope",
						zap.String("policy", p.Name()),
						zap.String("scope", scope))
					return nil, domain.ErrAccessDenied
				}
			}
		}
	}

	if len(unmet) > 0 {
		return &domain.NeedInfo{RequiredClaims: unmet, RedirectUser: gatheringScript}, nil
	}
	return nil, nil
}

// rotateForNeedInfo issues the need_info continuation: a fresh ticket
// carrying the claims supplied so far and the redirect to claims gathering
func (s *UmaService) rotateForNeedInfo(ctx context.Context, ticket *domain.PermissionTicket, pctx *domain.PolicyContext, info *domain.NeedInfo) error {
	ticket.GatheredClaims = pctx.Claims
	ticket.GatheringStep = 0
	rotated, err := s.rotateTicket(ctx, ticket)
	if err != nil {
		return err
	}

	script := info.RedirectUser
	info.Ticket = rotated
	info.RedirectUser = fmt.Sprintf("%s/uma/claims-gathering?script=%s&ticket=%s",
		s.cfg.Issuer, url.QueryEscape(script), url.QueryEscape(rotated))

	s.logger.Debug("need_info returned",
		zap.Int("required_claims", len(info.RequiredClaims)),
		zap.String("gatherer", script))
	return nil
}

// consumeTicket redeems a ticket exactly once. Unknown, expired and
// already-consumed tickets are indistinguishable to the caller.
func (s *UmaService) consumeTicket(ctx context.Context, value string) (*domain.PermissionTicket, error) {
	won, err := s.store.CasPut(ctx, ticketUsedKeyPrefix+value, []byte("1"), 2*s.cfg.PermissionTicketDuration)
	if err != nil {
		return nil, domain.ErrInternal
	}
	if !won {
		return nil, domain.ErrTicketNotFound
	}

	ticket, err := s.getTicket(ctx, value)
	if err != nil {
		return nil, err
	}
	_ = s.store.Delete(ctx, ticketKeyPrefix+value)
	return ticket, nil
}

func (s *UmaService) getTicket(ctx context.Context, value string) (*domain.PermissionTicket, error) {
	raw, err := s.store.Get(ctx, ticketKeyPrefix+value)
	if err != nil {
		return nil, domain.ErrTicketNotFound
	}
	ticket := &domain.PermissionTicket{}
	if err := json.Unmarshal(raw, ticket); err != nil {
		return nil, domain.ErrTicketNotFound
	}
	if ticket.Expired(time.Now()) {
		return nil, domain.ErrTicketNotFound
	}
	return ticket, nil
}

// storeTicket assigns a fresh unguessable value and persists the ticket
func (s *UmaService) storeTicket(ctx context.Context, ticket *domain.PermissionTicket) (string, error) {
	value, err := ticketValue()
	if err != nil {
		return "", domain.ErrInternal
	}
	ticket.Ticket = value
	if err := s.updateTicket(ctx, value, ticket); err != nil {
		return "", err
	}
	return value, nil
}

func (s *UmaService) updateTicket(ctx context.Context, value string, ticket *domain.PermissionTicket) error {
	raw, err := json.Marshal(ticket)
	if err != nil {
		return domain.ErrInternal
	}
	ttl := time.Until(ticket.ExpiresAt)
	if ttl <= 0 {
		return domain.ErrTicketNotFound
	}
	return s.store.Put(ctx, ticketKeyPrefix+value, raw, ttl)
}

// rotateTicket issues a fresh ticket value for the same permission set,
// extending the expiry window
func (s *UmaService) rotateTicket(ctx context.Context, ticket *domain.PermissionTicket) (string, error) {
	rotated := &domain.PermissionTicket{
		Permissions:    ticket.Permissions,
		GatheredClaims: ticket.GatheredClaims,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(s.cfg.PermissionTicketDuration),
	}
	return s.storeTicket(ctx, rotated)
}

// parseClaimToken decodes a pushed claim token into the policy context
func (s *UmaService) parseClaimToken(token, format string, pctx *domain.PolicyContext) error {
	switch format {
	case "", ClaimTokenFormatJWT:
		// A five-segment compact serialization is a JWE wrapping the
		// signed claim token; unwrap it with the server key first
		if strings.Count(token, ".") == 4 {
			inner, err := s.decryptClaimToken(token)
			if err != nil {
				return err
			}
			token = inner
		}
		claims, err := s.signer.Verify(token)
		if err != nil {
			return domain.ErrInvalidJWT
		}
		for name, value := range claims {
			pctx.Claims[name] = value
		}
	case ClaimTokenFormatJSON:
		raw, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return domain.ErrInvalidRequest
		}
		var claims map[string]interface{}
		if err := json.Unmarshal(raw, &claims); err != nil {
			return domain.ErrInvalidJWT
		}
		for name, value := range claims {
			pctx.Claims[name] = value
		}
	default:
		return domain.ErrInvalidRequest
	}
	return nil
}

// decryptClaimToken unwraps an encrypted claim token addressed to this
// server. The signing key pair doubles as the decryption key; a signer
// without an extractable private key cannot accept encrypted claim tokens.
func (s *UmaService) decryptClaimToken(token string) (string, error) {
	if s.encrypter == nil {
		return "", domain.ErrInvalidJWE
	}
	keyed, ok := s.signer.(interface{ GetPrivateKey() *rsa.PrivateKey })
	if !ok {
		return "", domain.ErrInvalidJWE
	}
	plaintext, err := s.encrypter.Decrypt(token, keyed.GetPrivateKey())
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// persistClaims stores gathered claims behind an opaque PCT
func (s *UmaService) persistClaims(ctx context.Context, claims map[string]interface{}) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	value, err := ticketValue()
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, pctKeyPrefix+value, raw, s.cfg.PCTDuration); err != nil {
		return "", err
	}
	return value, nil
}

// loadPersistedClaims merges a PCT's claims into the context; a stale or
// unknown PCT is simply ignored
func (s *UmaService) loadPersistedClaims(ctx context.Context, pct string, pctx *domain.PolicyContext) {
	raw, err := s.store.Get(ctx, pctKeyPrefix+pct)
	if err != nil {
		return
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return
	}
	for name, value := range claims {
		if _, present := pctx.Claims[name]; !present {
			pctx.Claims[name] = value
		}
	}
}

// mergeExtendedRPT folds the permissions of a still-valid RPT into the new
// grant, implementing RPT extension
func (s *UmaService) mergeExtendedRPT(ctx context.Context, rpt string, permissions []domain.Permission) []domain.Permission {
	_, grant, err := s.registry.LookupByToken(ctx, rpt)
	if err != nil || grant.Type != domain.GrantTypeUmaTicket {
		return permissions
	}
	return append(permissions, grant.Permissions...)
}

func grantedPermissions(ticket *domain.PermissionTicket, expiresAt time.Time) []domain.Permission {
	granted := make([]domain.Permission, len(ticket.Permissions))
	copy(granted, ticket.Permissions)
	for i := range granted {
		granted[i].ExpiresAt = expiresAt
	}
	return granted
}

// narrowPermissions keeps only the requested scopes on each ticket
// permission. A requested scope the ticket never carried fails the whole
// request; a permission left with no scopes is dropped.
func narrowPermissions(permissions []domain.Permission, requested []string) ([]domain.Permission, error) {
	want := make(map[string]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}

	covered := make(map[string]bool, len(requested))
	var narrowed []domain.Permission
	for _, p := range permissions {
		var kept []string
		for _, s := range p.Scopes {
			if want[s] {
				kept = append(kept, s)
				covered[s] = true
			}
		}
		if len(kept) > 0 {
			narrowed = append(narrowed, domain.Permission{
				ResourceID: p.ResourceID,
				Scopes:     kept,
				ExpiresAt:  p.ExpiresAt,
			})
		}
	}
	for _, s := range requested {
		if !covered[s] {
			return nil, domain.ErrInvalidScope
		}
	}
	return narrowed, nil
}

func scopesOf(permissions []domain.Permission) []string {
	seen := make(map[string]bool)
	var scopes []string
	for _, p := range permissions {
		for _, s := range p.Scopes {
			if !seen[s] {
				seen[s] = true
				scopes = append(scopes, s)
			}
		}
	}
	return scopes
}

func subjectFromClaims(claims map[string]interface{}) string {
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}

func appendMissing(unmet, missing []domain.ClaimDefinition) []domain.ClaimDefinition {
	for _, m := range missing {
		duplicate := false
		for _, u := range unmet {
			if u.Name == m.Name {
				duplicate = true
				break
			}
		}
		if !duplicate {
			unmet = append(unmet, m)
		}
	}
	return unmet
}

// ticketValue produces an unguessable opaque handle
func ticketValue() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
