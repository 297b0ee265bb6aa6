package domain

import "time"

// TokenKind identifies what a token is for
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access_token"
	TokenKindRefresh TokenKind = "refresh_token"
	TokenKindID      TokenKind = "id_token"
	TokenKindRPT     TokenKind = "rpt"
	TokenKindTx      TokenKind = "tx_token"
	TokenKindPCT     TokenKind = "pct"
)

// Token is a minted security token. Value is either opaque or a compact JWS;
// ReferenceID identifies the token independently of its value and is what
// grants record. A token is owned by exactly one grant.
type Token struct {
	Value       string
	Kind        TokenKind
	ReferenceID string
	GrantID     string
	// Scopes is the scope set narrowed at mint; nil means the grant's
	// full set
	Scopes    []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiration
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenPair represents the access/refresh pair returned by the token endpoint
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	// PCT carries the persisted claims token on UMA responses
	PCT string `json:"pct,omitempty"`
}
