package domain

import (
	"context"
	"time"
)

// TokenAuthMethod identifies how a client authenticates at the token endpoint
type TokenAuthMethod string

const (
	AuthMethodSecretBasic TokenAuthMethod = "client_secret_basic"
	AuthMethodSecretPost  TokenAuthMethod = "client_secret_post"
	AuthMethodNone        TokenAuthMethod = "none"
)

// Client represents a registered OAuth2 client. Instances are immutable per
// request; the persistence collaborator owns the record.
type Client struct {
	ID           string
	SecretHash   string
	AuthMethod   TokenAuthMethod
	RedirectURIs []string
	GrantTypes   []GrantType
	Scopes       []string
	// IDTokenSignAlg and KeyID drive key selection in the JOSE pipeline
	IDTokenSignAlg string
	KeyID          string
	// RotateRefreshTokens makes refresh tokens single-use: each refresh
	// revokes the presented token and mints a replacement
	RotateRefreshTokens bool
	// NotificationToken authorizes CIBA ping/push callbacks and is compared
	// in constant time; NotificationEndpoint receives the callbacks
	NotificationToken    string
	NotificationEndpoint string
	Disabled             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AllowsGrantType reports whether the client is registered for the grant type
func (c *Client) AllowsGrantType(gt GrantType) bool {
	for _, t := range c.GrantTypes {
		if t == gt {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether the redirect URI is registered for the client
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// Scope is a named permission unit, optionally carrying the claim names it exposes
type Scope struct {
	Name   string
	Claims []string
}

// ClientRepository defines the interface for client lookup
type ClientRepository interface {
	// FindClientByID finds a registered client by ID
	FindClientByID(ctx context.Context, id string) (*Client, error)
}
