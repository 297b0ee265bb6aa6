package handlers

import (
	"net/http"

	"github.com/ipede/uma-auth-service/internal/application"
	"github.com/ipede/uma-auth-service/internal/domain"
	httperrors "github.com/ipede/uma-auth-service/internal/interfaces/http/errors"
	"go.uber.org/zap"
)

// TokenHandler serves the token, introspection and revocation endpoints
type TokenHandler struct {
	tokens        *application.TokenService
	introspection *application.IntrospectionService
	revocation    *application.RevocationService
	logger        *zap.Logger
}

// NewTokenHandler creates a new TokenHandler
func NewTokenHandler(tokens *application.TokenService, introspection *application.IntrospectionService, revocation *application.RevocationService, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{
		tokens:        tokens,
		introspection: introspection,
		revocation:    revocation,
		logger:        logger,
	}
}

// TokenEndpointHandler handles POST /oauth2/token for every supported
// grant type, including the UMA ticket grant and CIBA polling
// @Summary Exchange a grant for tokens
// @Tags oauth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Router /oauth2/token [post]
func (h *TokenHandler) TokenEndpointHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Error("Failed to parse token request form", zap.Error(err))
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	clientID, clientSecret := clientCredentials(r)
	req := application.TokenRequest{
		GrantType:        r.PostFormValue("grant_type"),
		ClientID:         clientID,
		ClientSecret:     clientSecret,
		Code:             r.PostFormValue("code"),
		RedirectURI:      r.PostFormValue("redirect_uri"),
		CodeVerifier:     r.PostFormValue("code_verifier"),
		RefreshToken:     r.PostFormValue("refresh_token"),
		Scope:            r.PostFormValue("scope"),
		Ticket:           r.PostFormValue("ticket"),
		ClaimToken:       r.PostFormValue("claim_token"),
		ClaimTokenFormat: r.PostFormValue("claim_token_format"),
		PCT:              r.PostFormValue("pct"),
		RPT:              r.PostFormValue("rpt"),
		AuthReqID:        r.PostFormValue("auth_req_id"),
	}

	pair, needInfo, err := h.tokens.HandleTokenRequest(r.Context(), req)
	if err != nil {
		h.logger.Info("Token request rejected",
			zap.String("grant_type", req.GrantType),
			zap.String("client_id", clientID),
			zap.Error(err))
		httperrors.RespondWithError(w, err)
		return
	}
	if needInfo != nil {
		httperrors.RespondNeedInfo(w, needInfo)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, pair)
}

// IntrospectHandler handles POST /oauth2/introspect per RFC 7662.
// Inactive tokens introspect as {"active": false} with no further claims.
func (h *TokenHandler) IntrospectHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	clientID, clientSecret := clientCredentials(r)
	if _, err := h.tokens.AuthenticateClient(r.Context(), clientID, clientSecret); err != nil {
		httperrors.RespondWithError(w, err)
		return
	}

	result := h.introspection.Introspect(r.Context(), r.PostFormValue("token"))
	writeJSON(w, http.StatusOK, result)
}

// RevokeHandler handles POST /oauth2/revoke per RFC 7009. Unknown tokens
// revoke successfully.
func (h *TokenHandler) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	clientID, clientSecret := clientCredentials(r)
	client, err := h.tokens.AuthenticateClient(r.Context(), clientID, clientSecret)
	if err != nil {
		httperrors.RespondWithError(w, err)
		return
	}

	if err := h.revocation.Revoke(r.Context(), client, r.PostFormValue("token")); err != nil {
		httperrors.RespondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// RevokeSubjectHandler handles POST /oauth2/revoke-subject: every live
// token of the subject is invalidated at once
func (h *TokenHandler) RevokeSubjectHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	clientID, clientSecret := clientCredentials(r)
	if _, err := h.tokens.AuthenticateClient(r.Context(), clientID, clientSecret); err != nil {
		httperrors.RespondWithError(w, err)
		return
	}

	if err := h.revocation.RevokeAllForSubject(r.Context(), r.PostFormValue("sub")); err != nil {
		httperrors.RespondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
