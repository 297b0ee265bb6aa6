package policy

import (
	"context"

	"github.com/ipede/uma-auth-service/internal/domain"
)

// ClaimMatchPolicy authorizes when every required claim is present and, when
// an expected value is configured, equal to it. Missing claims surface as
// required claims, which drives the need_info continuation.
type ClaimMatchPolicy struct {
	PolicyName    string
	Claims        []domain.ClaimDefinition
	Expected      map[string]interface{}
	GatheringName string
}

// Name identifies the policy
func (p *ClaimMatchPolicy) Name() string { return p.PolicyName }

// RequiredClaims lists the configured claims not yet present in the context
func (p *ClaimMatchPolicy) RequiredClaims(_ context.Context, pctx *domain.PolicyContext) []domain.ClaimDefinition {
	var missing []domain.ClaimDefinition
	for _, c := range p.Claims {
		if pctx.Claim(c.Name) == nil {
			missing = append(missing, c)
		}
	}
	return missing
}

// Authorize checks presence and, when configured, equality of every claim
func (p *ClaimMatchPolicy) Authorize(_ context.Context, pctx *domain.PolicyContext) (bool, error) {
	for _, c := range p.Claims {
		value := pctx.Claim(c.Name)
		if value == nil {
			return false, nil
		}
		if expected, ok := p.Expected[c.Name]; ok && value != expected {
			return false, nil
		}
	}
	return true, nil
}

// ClaimsGatheringScriptName names the gatherer for the interactive sub-flow
func (p *ClaimMatchPolicy) ClaimsGatheringScriptName() string { return p.GatheringName }

// DenyAllPolicy rejects every request. Attaching it to a scope turns the
// engine's grant-by-default for policy-less scopes into deny-by-absence.
type DenyAllPolicy struct{}

func (DenyAllPolicy) Name() string { return "deny-all" }

func (DenyAllPolicy) RequiredClaims(context.Context, *domain.PolicyContext) []domain.ClaimDefinition {
	return nil
}

func (DenyAllPolicy) Authorize(context.Context, *domain.PolicyContext) (bool, error) {
	return false, nil
}

func (DenyAllPolicy) ClaimsGatheringScriptName() string { return "" }
