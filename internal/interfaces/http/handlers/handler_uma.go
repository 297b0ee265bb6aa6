package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ipede/uma-auth-service/internal/application"
	"github.com/ipede/uma-auth-service/internal/domain"
	httperrors "github.com/ipede/uma-auth-service/internal/interfaces/http/errors"
	"go.uber.org/zap"
)

// ResourceRequest is the UMA resource registration body
type ResourceRequest struct {
	Name   string   `json:"name"`
	Type   string   `json:"type,omitempty"`
	Owner  string   `json:"owner,omitempty"`
	Scopes []string `json:"resource_scopes"`
}

// PermissionRequest is one entry of the UMA permission endpoint body
type PermissionRequest struct {
	ResourceID string   `json:"resource_id"`
	Scopes     []string `json:"resource_scopes"`
}

// UmaHandler serves the UMA 2.0 protection API and the claims-gathering
// endpoint
type UmaHandler struct {
	uma    *application.UmaService
	logger *zap.Logger
}

// NewUmaHandler creates a new UmaHandler
func NewUmaHandler(uma *application.UmaService, logger *zap.Logger) *UmaHandler {
	return &UmaHandler{uma: uma, logger: logger}
}

// RegisterResourceHandler handles POST /uma/resources
func (h *UmaHandler) RegisterResourceHandler(w http.ResponseWriter, r *http.Request) {
	var req ResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode resource registration", zap.Error(err))
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	resource, err := h.uma.RegisterResource(r.Context(), &domain.UmaResource{
		Name:   req.Name,
		Type:   req.Type,
		Owner:  req.Owner,
		Scopes: req.Scopes,
	})
	if err != nil {
		httperrors.RespondWithError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"_id": resource.ID})
}

// GetResourceHandler handles GET /uma/resources/{id}
func (h *UmaHandler) GetResourceHandler(w http.ResponseWriter, r *http.Request) {
	resource, err := h.uma.GetResource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httperrors.RespondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"_id":             resource.ID,
		"name":            resource.Name,
		"type":            resource.Type,
		"owner":           resource.Owner,
		"resource_scopes": resource.Scopes,
	})
}

// DeleteResourceHandler handles DELETE /uma/resources/{id}
func (h *UmaHandler) DeleteResourceHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.uma.DeleteResource(r.Context(), chi.URLParam(r, "id")); err != nil {
		httperrors.RespondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PermissionHandler handles POST /uma/permissions: the resource server
// reports the attempted access and receives a permission ticket. The body
// is either one permission object or an array of them.
func (h *UmaHandler) PermissionHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	var requests []PermissionRequest
	if err := json.Unmarshal(raw, &requests); err != nil {
		// Not an array; retry as a single object
		var single PermissionRequest
		if err := json.Unmarshal(raw, &single); err != nil {
			httperrors.RespondWithError(w, domain.ErrInvalidRequest)
			return
		}
		requests = append(requests, single)
	}

	permissions := make([]domain.Permission, 0, len(requests))
	for _, req := range requests {
		permissions = append(permissions, domain.Permission{
			ResourceID: req.ResourceID,
			Scopes:     req.Scopes,
		})
	}

	ticket, err := h.uma.RegisterPermission(r.Context(), permissions)
	if err != nil {
		h.logger.Info("Permission request rejected", zap.Error(err))
		httperrors.RespondWithError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"ticket": ticket})
}

// GatherHandler handles POST /uma/claims-gathering: one step of the
// interactive flow. Form fields become the step's input; the response
// carries either the next page or the rotated ticket to redeem.
func (h *UmaHandler) GatherHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	ticket := r.FormValue("ticket")
	script := r.FormValue("script")
	if ticket == "" || script == "" {
		httperrors.RespondWithError(w, domain.ErrInvalidRequest)
		return
	}

	params := make(map[string]string)
	for name, values := range r.Form {
		if name == "ticket" || name == "script" {
			continue
		}
		if len(values) > 0 {
			params[name] = values[0]
		}
	}

	result, err := h.uma.Gather(r.Context(), ticket, script, params)
	if err != nil {
		h.logger.Info("Claims gathering step failed", zap.String("script", script), zap.Error(err))
		httperrors.RespondWithError(w, err)
		return
	}

	if result.Done {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "complete",
			"ticket": result.Ticket,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "in_progress",
		"next_step": result.NextStep,
		"next_page": result.NextPage,
	})
}
