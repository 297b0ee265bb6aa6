package domain

import (
	"strings"
	"time"
)

// GrantType identifies the protocol flow a grant was created under
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeImplicit          GrantType = "implicit"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypeCIBA              GrantType = "urn:openid:params:grant-type:ciba"
	GrantTypeUmaTicket         GrantType = "urn:ietf:params:oauth:grant-type:uma-ticket"
)

// ParseGrantType maps a wire grant_type value to a known GrantType
func ParseGrantType(s string) (GrantType, error) {
	switch GrantType(s) {
	case GrantTypeAuthorizationCode, GrantTypeImplicit, GrantTypeClientCredentials,
		GrantTypeRefreshToken, GrantTypeCIBA, GrantTypeUmaTicket:
		return GrantType(s), nil
	}
	return "", ErrUnsupportedGrantType
}

// GrantState is the lifecycle state shared by all grant variants
type GrantState string

const (
	GrantStateActive   GrantState = "active"
	GrantStateConsumed GrantState = "consumed"
	GrantStateRevoked  GrantState = "revoked"
)

// CibaStatus tracks a backchannel authentication request
type CibaStatus string

const (
	CibaStatusPending  CibaStatus = "pending"
	CibaStatusApproved CibaStatus = "approved"
	CibaStatusDenied   CibaStatus = "denied"
	CibaStatusExpired  CibaStatus = "expired"
)

// Grant is the server-side record of an authorized exchange between a client,
// an optional user and a scope set. It is a closed tagged union over Type:
// variant-specific fields are populated only for their variant and the
// accessors dispatch on the type tag.
type Grant struct {
	ID        string
	Type      GrantType
	ClientID  string
	UserID    string
	Scopes    []string
	State     GrantState
	CreatedAt time.Time

	// Authorization code variant
	Code                string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string

	// CIBA variant
	AuthReqID  string
	CibaStatus CibaStatus
	CibaExpiry time.Time

	// UMA ticket variant
	Permissions []Permission

	// References to tokens minted from this grant, keyed by reference id
	TokenRefs []TokenRef
}

// TokenRef links a minted token back to its grant without storing the value twice
type TokenRef struct {
	ReferenceID string
	Kind        TokenKind
	ExpiresAt   time.Time
}

// HasUser reports whether the grant carries an end-user subject.
// Client credentials grants never do.
func (g *Grant) HasUser() bool {
	return g.UserID != ""
}

// HasScope reports whether the grant covers the named scope
func (g *Grant) HasScope(scope string) bool {
	for _, s := range g.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// NarrowScopes returns the subset of requested scopes the grant covers.
// An empty request keeps the grant's full scope set; any scope outside the
// grant fails with ErrInvalidScope (widening is never allowed).
func (g *Grant) NarrowScopes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return g.Scopes, nil
	}
	narrowed := make([]string, 0, len(requested))
	for _, s := range requested {
		if !g.HasScope(s) {
			return nil, ErrInvalidScope
		}
		narrowed = append(narrowed, s)
	}
	return narrowed, nil
}

// AttachToken records a minted token against the grant
func (g *Grant) AttachToken(ref TokenRef) {
	g.TokenRefs = append(g.TokenRefs, ref)
}

// FillAccessTokenClaims populates the claim set for an access token minted
// from this grant. scopes narrows the scope claim for this token only; nil
// keeps the grant's full set. The authorization code is deliberately out of
// reach here: the grant never exposes it to claim population, so no access
// token can embed a code claim regardless of grant type.
func (g *Grant) FillAccessTokenClaims(claims map[string]interface{}, token *Token, issuer string, scopes []string) {
	if len(scopes) == 0 {
		scopes = g.Scopes
	}
	claims["iss"] = issuer
	claims["aud"] = g.ClientID
	claims["client_id"] = g.ClientID
	claims["jti"] = token.ReferenceID
	claims["iat"] = token.CreatedAt.Unix()
	claims["exp"] = token.ExpiresAt.Unix()
	claims["scope"] = strings.Join(scopes, " ")
	claims["grant_type"] = string(g.Type)
	if g.HasUser() {
		claims["sub"] = g.UserID
	} else {
		claims["sub"] = g.ClientID
	}
	if g.Type == GrantTypeUmaTicket && len(g.Permissions) > 0 {
		perms := make([]map[string]interface{}, 0, len(g.Permissions))
		for _, p := range g.Permissions {
			perms = append(perms, p.AsClaim())
		}
		claims["permissions"] = perms
	}
}

// FillIDTokenClaims populates the claim set for an ID token minted from this grant
func (g *Grant) FillIDTokenClaims(claims map[string]interface{}, token *Token, issuer string) {
	claims["iss"] = issuer
	claims["aud"] = g.ClientID
	claims["sub"] = g.UserID
	claims["iat"] = token.CreatedAt.Unix()
	claims["exp"] = token.ExpiresAt.Unix()
	if g.Nonce != "" {
		claims["nonce"] = g.Nonce
	}
}
