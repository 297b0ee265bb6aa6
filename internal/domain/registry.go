package domain

import "context"

// GrantRegistry is the authoritative directory mapping token values to
// grants. Every protected endpoint resolves tokens here. It is an explicitly
// constructed instance passed into each component that needs it, never an
// ambient singleton.
type GrantRegistry interface {
	// Register stores a grant so its artifacts can be resolved later
	Register(ctx context.Context, grant *Grant) error

	// UpdateGrant persists grant mutations (attached tokens, state changes)
	UpdateGrant(ctx context.Context, grant *Grant) error

	// LookupByToken resolves a token value to its token record and owning
	// grant. A miss, an expired token and a revoked token are all reported
	// as ErrGrantNotFound.
	LookupByToken(ctx context.Context, value string) (*Token, *Grant, error)

	// IndexToken makes a minted token resolvable by value. A non-expired
	// token value maps to at most one grant.
	IndexToken(ctx context.Context, token *Token) error

	// ConsumeAuthorizationCode redeems an authorization code exactly once.
	// The second and all later calls return ErrCodeAlreadyConsumed; an
	// unknown or expired code returns ErrInvalidGrant.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*Grant, error)

	// LookupByAuthReqID resolves a CIBA backchannel request id to its grant
	LookupByAuthReqID(ctx context.Context, authReqID string) (*Grant, error)

	// Revoke invalidates a single token by value
	Revoke(ctx context.Context, tokenValue string) error

	// RevokeAllForSubject invalidates every token held by the subject,
	// atomically with respect to concurrent issuance: a token minted during
	// the revocation is dead on arrival.
	RevokeAllForSubject(ctx context.Context, subject string) error
}
