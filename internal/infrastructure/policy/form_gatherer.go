package policy

import (
	"context"

	"github.com/ipede/uma-auth-service/internal/domain"
)

// FormGatherer collects one claim per step from submitted form parameters.
// It is the reference ClaimsGatherer implementation; deployments with richer
// interactions provide their own.
type FormGatherer struct {
	GathererName string
	Claims       []domain.ClaimDefinition
	// Pages maps a step index to the page shown for it; missing entries
	// fall back to a generic claims page
	Pages map[int]string
}

// Name identifies the gatherer
func (g *FormGatherer) Name() string { return g.GathererName }

// StepsCount is one step per configured claim
func (g *FormGatherer) StepsCount(_ *domain.PolicyContext) int {
	return len(g.Claims)
}

// PageForStep names the page rendered for a step
func (g *FormGatherer) PageForStep(step int, _ *domain.PolicyContext) string {
	if page, ok := g.Pages[step]; ok {
		return page
	}
	return "claims-gathering"
}

// PrepareForStep validates the step index before it is rendered
func (g *FormGatherer) PrepareForStep(_ context.Context, step int, _ *domain.PolicyContext) error {
	if step < 0 || step >= len(g.Claims) {
		return domain.ErrInvalidRequest
	}
	return nil
}

// Gather pulls the step's claim out of the submitted parameters into the
// context. Returns false when the claim was not supplied, which keeps the
// flow on the same step.
func (g *FormGatherer) Gather(_ context.Context, step int, params map[string]string, pctx *domain.PolicyContext) (bool, error) {
	if step < 0 || step >= len(g.Claims) {
		return false, domain.ErrInvalidRequest
	}
	name := g.Claims[step].Name
	value, ok := params[name]
	if !ok || value == "" {
		return false, nil
	}
	if pctx.Claims == nil {
		pctx.Claims = make(map[string]interface{})
	}
	pctx.Claims[name] = value
	return true, nil
}

// NextStep advances through the claims, returning -1 after the last one
func (g *FormGatherer) NextStep(step int, _ *domain.PolicyContext) int {
	next := step + 1
	if next >= len(g.Claims) {
		return -1
	}
	return next
}
