package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/jwtauth/v5"
	"github.com/ipede/uma-auth-service/internal/application"
	"github.com/ipede/uma-auth-service/internal/domain"
	httperrors "github.com/ipede/uma-auth-service/internal/interfaces/http/errors"
	"go.uber.org/zap"
)

// AuthorizeHandler serves the front-channel authorization endpoint
type AuthorizeHandler struct {
	authorize *application.AuthorizeService
	logger    *zap.Logger
}

// NewAuthorizeHandler creates a new AuthorizeHandler
func NewAuthorizeHandler(authorize *application.AuthorizeService, logger *zap.Logger) *AuthorizeHandler {
	return &AuthorizeHandler{authorize: authorize, logger: logger}
}

// AuthorizeEndpointHandler handles GET /oauth2/authorize. The caller is
// the authenticated end user; response_type selects the code or implicit
// flow and the result is delivered by redirect.
func (h *AuthorizeHandler) AuthorizeEndpointHandler(w http.ResponseWriter, r *http.Request) {
	userID := subjectFromContext(r)
	if userID == "" {
		httperrors.RespondWithError(w, domain.ErrAccessDenied)
		return
	}

	q := r.URL.Query()
	req := application.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		UserID:              userID,
		RedirectURI:         q.Get("redirect_uri"),
		Scopes:              strings.Fields(q.Get("scope")),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	switch q.Get("response_type") {
	case "code":
		code, err := h.authorize.IssueAuthorizationCode(r.Context(), req)
		if err != nil {
			h.logger.Info("Authorization request rejected",
				zap.String("client_id", req.ClientID),
				zap.Error(err))
			httperrors.RespondWithError(w, err)
			return
		}
		redirect, _ := url.Parse(req.RedirectURI)
		params := redirect.Query()
		params.Set("code", code)
		if state := q.Get("state"); state != "" {
			params.Set("state", state)
		}
		redirect.RawQuery = params.Encode()
		http.Redirect(w, r, redirect.String(), http.StatusFound)

	case "token", "id_token token":
		pair, err := h.authorize.IssueImplicit(r.Context(), req)
		if err != nil {
			h.logger.Info("Implicit request rejected",
				zap.String("client_id", req.ClientID),
				zap.Error(err))
			httperrors.RespondWithError(w, err)
			return
		}
		fragment := url.Values{}
		fragment.Set("access_token", pair.AccessToken)
		fragment.Set("token_type", pair.TokenType)
		fragment.Set("expires_in", strconv.FormatInt(pair.ExpiresIn, 10))
		if pair.IDToken != "" {
			fragment.Set("id_token", pair.IDToken)
		}
		if state := q.Get("state"); state != "" {
			fragment.Set("state", state)
		}
		http.Redirect(w, r, req.RedirectURI+"#"+fragment.Encode(), http.StatusFound)

	default:
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
	}
}

// subjectFromContext reads the authenticated subject set by the token
// verification middleware
func subjectFromContext(r *http.Request) string {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return ""
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
