package handlers

import (
	"net/http"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	httperrors "github.com/ipede/uma-auth-service/internal/interfaces/http/errors"
	"go.uber.org/zap"
)

// WellKnownHandler serves the discovery documents and the JWKS endpoint
type WellKnownHandler struct {
	jwks   domain.JWKSProvider
	cfg    *config.Config
	logger *zap.Logger
}

// NewWellKnownHandler creates a new WellKnownHandler
func NewWellKnownHandler(jwks domain.JWKSProvider, cfg *config.Config, logger *zap.Logger) *WellKnownHandler {
	return &WellKnownHandler{jwks: jwks, cfg: cfg, logger: logger}
}

// GetJWKSHandler handles GET /.well-known/jwks.json
func (h *WellKnownHandler) GetJWKSHandler(w http.ResponseWriter, r *http.Request) {
	jwks, err := h.jwks.GetJWKS(r.Context())
	if err != nil {
		h.logger.Error("Failed to get JWKS", zap.Error(err))
		httperrors.RespondWithError(w, domain.ErrInternal)
		return
	}
	writeJSON(w, http.StatusOK, jwks)
}

// GetOpenIDConfigurationHandler handles GET /.well-known/openid-configuration
func (h *WellKnownHandler) GetOpenIDConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	issuer := h.cfg.Issuer
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/oauth2/authorize",
		"token_endpoint":                        issuer + "/oauth2/token",
		"introspection_endpoint":                issuer + "/oauth2/introspect",
		"revocation_endpoint":                   issuer + "/oauth2/revoke",
		"backchannel_authentication_endpoint":   issuer + "/oauth2/bc-authorize",
		"jwks_uri":                              issuer + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code", "token", "id_token token"},
		"grant_types_supported":                 grantTypesSupported(),
		"code_challenge_methods_supported":      []string{"plain", "S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
		"id_token_signing_alg_values_supported": []string{h.cfg.SigningAlgorithm},
	})
}

// GetUmaConfigurationHandler handles GET /.well-known/uma2-configuration
func (h *WellKnownHandler) GetUmaConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	issuer := h.cfg.Issuer
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                         issuer,
		"authorization_endpoint":         issuer + "/oauth2/authorize",
		"token_endpoint":                 issuer + "/oauth2/token",
		"introspection_endpoint":         issuer + "/oauth2/introspect",
		"resource_registration_endpoint": issuer + "/uma/resources",
		"permission_endpoint":            issuer + "/uma/permissions",
		"claims_interaction_endpoint":    issuer + "/uma/claims-gathering",
		"jwks_uri":                       issuer + "/.well-known/jwks.json",
		"grant_types_supported":          grantTypesSupported(),
		"uma_profiles_supported":         []string{},
		"claim_token_formats_supported":  []string{"urn:ietf:params:oauth:token-type:jwt", "urn:uma:claim-token-format:json"},
	})
}

func grantTypesSupported() []string {
	return []string{
		string(domain.GrantTypeAuthorizationCode),
		string(domain.GrantTypeImplicit),
		string(domain.GrantTypeClientCredentials),
		string(domain.GrantTypeRefreshToken),
		string(domain.GrantTypeCIBA),
		string(domain.GrantTypeUmaTicket),
	}
}
