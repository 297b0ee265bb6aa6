package domain

import (
	"context"
	"time"
)

// UmaResource is a protected resource registered by a resource server
type UmaResource struct {
	ID      string
	Name    string
	Type    string
	Scopes  []string
	Owner   string
	IconURI string
}

// HasScope reports whether the resource exposes the named scope
func (r *UmaResource) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Permission is a requested or granted resource+scope set
type Permission struct {
	ResourceID string    `json:"resource_id"`
	Scopes     []string  `json:"resource_scopes"`
	ExpiresAt  time.Time `json:"-"`
}

// AsClaim renders the permission the way it appears inside an RPT and in
// introspection responses
func (p Permission) AsClaim() map[string]interface{} {
	claim := map[string]interface{}{
		"resource_id":     p.ResourceID,
		"resource_scopes": p.Scopes,
	}
	if !p.ExpiresAt.IsZero() {
		claim["exp"] = p.ExpiresAt.Unix()
	}
	return claim
}

// PermissionTicket is the short-lived, single-use handle a resource server
// obtains for a requested permission set. The ticket value is opaque and
// unguessable; it is consumed exactly once when exchanged for an RPT or
// rotated during claims gathering.
type PermissionTicket struct {
	Ticket      string
	Permissions []Permission
	// Claims gathered so far for this ticket chain, carried across need_info rotations
	GatheredClaims map[string]interface{}
	// GatheringStep tracks progress through an interactive claims-gathering flow
	GatheringStep int
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the ticket is past its expiration
func (t *PermissionTicket) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ClaimDefinition describes a claim a policy may require during claims gathering
type ClaimDefinition struct {
	Name         string `json:"name"`
	FriendlyName string `json:"friendly_name,omitempty"`
	ClaimTypeURI string `json:"claim_type,omitempty"`
	Issuer       string `json:"issuer,omitempty"`
}

// PolicyContext carries everything a policy sees: the requesting client, the
// permissions under evaluation and the claims supplied or gathered so far.
// It is an explicit struct threaded through evaluation, never shared state.
type PolicyContext struct {
	Client      *Client
	Permissions []Permission
	Claims      map[string]interface{}
}

// Claim returns a supplied claim value, nil when absent
func (c *PolicyContext) Claim(name string) interface{} {
	if c.Claims == nil {
		return nil
	}
	return c.Claims[name]
}

// RptPolicy is the narrow capability interface an authorization policy
// implements. The engine never depends on policy internals: it asks for the
// claims a policy needs and whether the context authorizes.
type RptPolicy interface {
	// Name identifies the policy in logs and metadata
	Name() string
	// RequiredClaims lists claims the policy needs before it can decide.
	// Unmet entries trigger a need_info continuation.
	RequiredClaims(ctx context.Context, pctx *PolicyContext) []ClaimDefinition
	// Authorize decides whether the context satisfies the policy
	Authorize(ctx context.Context, pctx *PolicyContext) (bool, error)
	// ClaimsGatheringScriptName names the gatherer driving the interactive
	// sub-flow; empty when the policy has no interactive step
	ClaimsGatheringScriptName() string
}

// ClaimsGatherer drives an interactive claims-gathering sub-flow step by step.
// NextStep returns -1 when the flow is complete.
type ClaimsGatherer interface {
	Name() string
	StepsCount(pctx *PolicyContext) int
	PageForStep(step int, pctx *PolicyContext) string
	PrepareForStep(ctx context.Context, step int, pctx *PolicyContext) error
	Gather(ctx context.Context, step int, params map[string]string, pctx *PolicyContext) (bool, error)
	NextStep(step int, pctx *PolicyContext) int
}

// NeedInfo is the structured continuation returned when policies require
// claims that were not supplied: a rotated ticket, the unmet claim
// definitions and the redirect target for interactive gathering. It is not
// a failure.
type NeedInfo struct {
	Ticket         string
	RequiredClaims []ClaimDefinition
	RedirectUser   string
}
