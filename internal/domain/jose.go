package domain

import (
	"context"
	"crypto/rsa"
	"time"
)

// SigningStrategy defines the interface for JWS signing backends.
// Implementations own their key material; callers select nothing beyond the
// claims to sign. An unsupported algorithm is a constructor error, never a
// silent downgrade to none.
type SigningStrategy interface {
	// Sign signs a claim set and returns the compact JWS
	Sign(claims map[string]interface{}) (string, error)
	// Verify parses and verifies a compact JWS, returning its claims
	Verify(token string) (map[string]interface{}, error)
	// GetPublicKey returns the public key for token validation
	GetPublicKey() *rsa.PublicKey
	// GetKeyID returns the current key ID
	GetKeyID() string
	// Algorithm returns the JWS algorithm name
	Algorithm() string
	// RotateKey rotates the key pair
	RotateKey() error
	// GetLastRotation returns the last key rotation time
	GetLastRotation() time.Time
}

// Encrypter defines the interface for the JWE half of the JOSE pipeline.
// Decrypt selects the decrypter by which secret is supplied: an RSA private
// key selects asymmetric key unwrapping, a byte slice selects the direct
// symmetric path.
type Encrypter interface {
	// Encrypt produces a compact JWE for the payload
	Encrypt(payload []byte, keyAlg, contentAlg string, recipientKey interface{}) (string, error)
	// Decrypt parses and decrypts a compact JWE. Malformed input or a failed
	// integrity check returns ErrInvalidJWE.
	Decrypt(compact string, secret interface{}) ([]byte, error)
}

// JWKSProvider exposes the server's public keys as a JWK set
type JWKSProvider interface {
	GetJWKS(ctx context.Context) (map[string]interface{}, error)
}
