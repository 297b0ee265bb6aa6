package handlers

import (
	"context"
	"net/http"

	"github.com/ipede/uma-auth-service/internal/application"
	"github.com/ipede/uma-auth-service/internal/domain"
	httperrors "github.com/ipede/uma-auth-service/internal/interfaces/http/errors"
	"go.uber.org/zap"
)

// CibaHandler serves the backchannel authentication endpoint and the
// out-of-band decision endpoints
type CibaHandler struct {
	ciba   *application.CibaService
	logger *zap.Logger
}

// NewCibaHandler creates a new CibaHandler
func NewCibaHandler(ciba *application.CibaService, logger *zap.Logger) *CibaHandler {
	return &CibaHandler{ciba: ciba, logger: logger}
}

// BackchannelAuthorizeHandler handles POST /oauth2/bc-authorize. The
// response carries the auth_req_id the client polls the token endpoint with.
func (h *CibaHandler) BackchannelAuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	clientID, _ := clientCredentials(r)
	resp, err := h.ciba.StartAuthentication(r.Context(), &application.BackchannelAuthRequest{
		ClientID:                clientID,
		Scope:                   r.PostFormValue("scope"),
		LoginHint:               r.PostFormValue("login_hint"),
		ClientNotificationToken: r.PostFormValue("client_notification_token"),
		BindingMessage:          r.PostFormValue("binding_message"),
	})
	if err != nil {
		h.logger.Info("Backchannel request rejected", zap.String("client_id", clientID), zap.Error(err))
		httperrors.RespondWithError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ApproveHandler handles POST /ciba/approve: the authenticated user
// consents to a pending backchannel request
func (h *CibaHandler) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.ciba.Approve)
}

// DenyHandler handles POST /ciba/deny
func (h *CibaHandler) DenyHandler(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.ciba.Deny)
}

func (h *CibaHandler) decide(w http.ResponseWriter, r *http.Request, decision func(ctx context.Context, authReqID, userID string) error) {
	if err := r.ParseForm(); err != nil {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	authReqID := r.PostFormValue("auth_req_id")
	if authReqID == "" {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	userID := subjectFromContext(r)
	if err := decision(r.Context(), authReqID, userID); err != nil {
		h.logger.Info("Backchannel decision rejected", zap.String("auth_req_id", authReqID), zap.Error(err))
		httperrors.RespondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
