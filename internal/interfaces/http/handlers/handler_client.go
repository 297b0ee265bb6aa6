package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/repository"
	"github.com/ipede/uma-auth-service/internal/infrastructure/secret"
	httperrors "github.com/ipede/uma-auth-service/internal/interfaces/http/errors"
	"go.uber.org/zap"
)

// ClientRequest represents the request to register an OAuth2 client
type ClientRequest struct {
	ID                   string   `json:"id"`
	Secret               string   `json:"secret"`
	AuthMethod           string   `json:"token_endpoint_auth_method"`
	RedirectURIs         []string `json:"redirect_uris"`
	GrantTypes           []string `json:"grant_types"`
	Scopes               []string `json:"scopes"`
	RotateRefreshTokens  bool     `json:"rotate_refresh_tokens"`
	NotificationToken    string   `json:"notification_token"`
	NotificationEndpoint string   `json:"notification_endpoint"`
}

// ClientResponse is the client representation returned by the management
// API; the secret hash never leaves the server
type ClientResponse struct {
	ID           string   `json:"id"`
	AuthMethod   string   `json:"token_endpoint_auth_method"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	Scopes       []string `json:"scopes"`
	Disabled     bool     `json:"disabled"`
}

// ClientHandler handles OAuth2 client management
type ClientHandler struct {
	clients *repository.ClientRepository
	logger  *zap.Logger
}

// NewClientHandler creates a new ClientHandler
func NewClientHandler(clients *repository.ClientRepository, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{clients: clients, logger: logger}
}

// CreateClientHandler handles the registration of a new OAuth2 client
func (h *ClientHandler) CreateClientHandler(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode client registration", zap.Error(err))
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}
	if req.ID == "" || len(req.GrantTypes) == 0 {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	authMethod := domain.TokenAuthMethod(req.AuthMethod)
	if authMethod == "" {
		authMethod = domain.AuthMethodSecretBasic
	}
	if authMethod != domain.AuthMethodNone && req.Secret == "" {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	grantTypes := make([]domain.GrantType, 0, len(req.GrantTypes))
	for _, gt := range req.GrantTypes {
		parsed, err := domain.ParseGrantType(gt)
		if err != nil {
			httperrors.RespondWithError(w, err)
			return
		}
		grantTypes = append(grantTypes, parsed)
	}

	client := &domain.Client{
		ID:                   req.ID,
		AuthMethod:           authMethod,
		RedirectURIs:         req.RedirectURIs,
		GrantTypes:           grantTypes,
		Scopes:               req.Scopes,
		RotateRefreshTokens:  req.RotateRefreshTokens,
		NotificationToken:    req.NotificationToken,
		NotificationEndpoint: req.NotificationEndpoint,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	if req.Secret != "" {
		hash, err := secret.HashSecret(req.Secret)
		if err != nil {
			h.logger.Error("Failed to hash client secret", zap.Error(err))
			httperrors.RespondWithError(w, domain.ErrInternal)
			return
		}
		client.SecretHash = hash
	}

	if err := h.clients.Save(r.Context(), client); err != nil {
		h.logger.Error("Failed to register client", zap.Error(err))
		httperrors.RespondWithError(w, err)
		return
	}

	h.logger.Info("Client registered", zap.String("client_id", client.ID))
	writeJSON(w, http.StatusCreated, clientResponse(client))
}

// GetClientHandler handles getting a single OAuth2 client
func (h *ClientHandler) GetClientHandler(w http.ResponseWriter, r *http.Request) {
	client, err := h.clients.FindClientByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httperrors.RespondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clientResponse(client))
}

func clientResponse(client *domain.Client) *ClientResponse {
	grantTypes := make([]string, 0, len(client.GrantTypes))
	for _, gt := range client.GrantTypes {
		grantTypes = append(grantTypes, string(gt))
	}
	return &ClientResponse{
		ID:           client.ID,
		AuthMethod:   string(client.AuthMethod),
		RedirectURIs: client.RedirectURIs,
		GrantTypes:   grantTypes,
		Scopes:       client.Scopes,
		Disabled:     client.Disabled,
	}
}
