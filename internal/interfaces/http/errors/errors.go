package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ipede/uma-auth-service/internal/domain"
)

// ErrorResponse is the RFC 6749 error body
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// OAuth error codes
const (
	ErrCodeInvalidRequest       = "invalid_request"
	ErrCodeInvalidClient        = "invalid_client"
	ErrCodeInvalidGrant         = "invalid_grant"
	ErrCodeUnauthorizedClient   = "unauthorized_client"
	ErrCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrCodeInvalidScope         = "invalid_scope"
	ErrCodeAccessDenied         = "access_denied"
	ErrCodeAuthorizationPending = "authorization_pending"
	ErrCodeInvalidResourceID    = "invalid_resource_id"
	ErrCodeInvalidResourceScope = "invalid_resource_scope"
	ErrCodeInvalidTicket        = "invalid_ticket"
	ErrCodeServerError          = "server_error"
)

type wireError struct {
	code        string
	description string
	status      int
}

var wireErrors = map[error]wireError{
	domain.ErrInvalidRequest:             {ErrCodeInvalidRequest, "The request is missing a required parameter or is otherwise malformed", http.StatusBadRequest},
	domain.ErrInvalidClient:              {ErrCodeInvalidClient, "Client authentication failed", http.StatusUnauthorized},
	domain.ErrDisabledClient:             {ErrCodeInvalidClient, "Client is disabled", http.StatusUnauthorized},
	domain.ErrInvalidGrant:               {ErrCodeInvalidGrant, "The provided grant is invalid, expired or revoked", http.StatusBadRequest},
	domain.ErrCodeAlreadyConsumed:        {ErrCodeInvalidGrant, "The authorization code has already been redeemed", http.StatusBadRequest},
	domain.ErrGrantNotFound:              {ErrCodeInvalidGrant, "The provided grant is invalid, expired or revoked", http.StatusBadRequest},
	domain.ErrTokenExpired:               {ErrCodeInvalidGrant, "The token has expired", http.StatusBadRequest},
	domain.ErrInvalidJWT:                 {ErrCodeInvalidGrant, "The token signature or structure is invalid", http.StatusBadRequest},
	domain.ErrInvalidJWE:                 {ErrCodeInvalidGrant, "The encrypted token could not be decrypted", http.StatusBadRequest},
	domain.ErrUnauthorizedClient:         {ErrCodeUnauthorizedClient, "The client is not registered for this grant type", http.StatusBadRequest},
	domain.ErrUnsupportedGrantType:       {ErrCodeUnsupportedGrantType, "The grant type is not supported", http.StatusBadRequest},
	domain.ErrInvalidScope:               {ErrCodeInvalidScope, "The requested scope exceeds what can be granted", http.StatusBadRequest},
	domain.ErrInvalidCodeChallengeMethod: {ErrCodeInvalidRequest, "The code challenge method is not supported", http.StatusBadRequest},
	domain.ErrAccessDenied:               {ErrCodeAccessDenied, "The authorization request was denied", http.StatusForbidden},
	domain.ErrAuthorizationPending:       {ErrCodeAuthorizationPending, "The authorization request is still pending", http.StatusBadRequest},
	domain.ErrResourceNotFound:           {ErrCodeInvalidResourceID, "The referenced resource is not registered", http.StatusBadRequest},
	domain.ErrTicketNotFound:             {ErrCodeInvalidTicket, "The permission ticket is invalid, expired or already used", http.StatusBadRequest},
}

// RespondWithError maps a domain error to its OAuth wire form. Unknown
// errors become server_error without leaking internals.
func RespondWithError(w http.ResponseWriter, err error) {
	for sentinel, wire := range wireErrors {
		if errors.Is(err, sentinel) {
			respond(w, wire.status, wire.code, wire.description)
			return
		}
	}
	respond(w, http.StatusInternalServerError, ErrCodeServerError, "The authorization server encountered an unexpected condition")
}

// RespondNeedInfo sends the UMA need_info continuation with the rotated
// ticket and the claim definitions still required
func RespondNeedInfo(w http.ResponseWriter, info *domain.NeedInfo) {
	required := make([]map[string]string, 0, len(info.RequiredClaims))
	for _, c := range info.RequiredClaims {
		required = append(required, map[string]string{
			"name":          c.Name,
			"friendly_name": c.FriendlyName,
			"claim_type":    c.ClaimTypeURI,
			"issuer":        c.Issuer,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":           "need_info",
		"ticket":          info.Ticket,
		"required_claims": required,
		"redirect_user":   info.RedirectUser,
	})
}

func respond(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: code, Description: description})
}
