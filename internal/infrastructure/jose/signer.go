package jose

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ipede/uma-auth-service/internal/domain"
	"go.uber.org/zap"
)

// SignerConfig holds the configuration for the local RSA signer
type SignerConfig struct {
	// Algorithm is the JWS algorithm; RS256, RS384 and RS512 are supported
	Algorithm string
	// KeyPath is where the PEM key pair lives; empty keeps the pair in memory only
	KeyPath string
	// KeySize is the RSA modulus size for generated keys
	KeySize int
}

// LocalSigner implements domain.SigningStrategy with a local RSA key pair
type LocalSigner struct {
	privateKey   *rsa.PrivateKey
	publicKey    *rsa.PublicKey
	config       SignerConfig
	method       jwt.SigningMethod
	logger       *zap.Logger
	keyID        string
	lastRotation time.Time
	mu           sync.RWMutex
}

// NewLocalSigner creates a signer backed by a local RSA key pair. An
// unsupported algorithm fails here, at construction, never at request time.
func NewLocalSigner(config SignerConfig, logger *zap.Logger) (*LocalSigner, error) {
	var method jwt.SigningMethod
	switch config.Algorithm {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "RS384":
		method = jwt.SigningMethodRS384
	case "RS512":
		method = jwt.SigningMethodRS512
	default:
		logger.Error("Unsupported signing algorithm", zap.String("algorithm", config.Algorithm))
		return nil, domain.ErrInvalidKeyConfig
	}

	if config.KeySize == 0 {
		config.KeySize = 2048
	}

	signer := &LocalSigner{
		config:       config,
		method:       method,
		logger:       logger,
		lastRotation: time.Now(),
	}

	if err := signer.loadOrGenerateKeyPair(); err != nil {
		return nil, domain.ErrInvalidKeyConfig
	}

	signer.keyID = generateKeyID(signer.privateKey)
	return signer, nil
}

// loadOrGenerateKeyPair loads the key pair from file or generates a new one
func (l *LocalSigner) loadOrGenerateKeyPair() error {
	if l.config.KeyPath == "" {
		return l.generateKeyPair()
	}

	dir := filepath.Dir(l.config.KeyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return domain.ErrInvalidKeyConfig
	}

	if err := l.loadKeyPair(); err == nil {
		return nil
	}

	return l.generateKeyPair()
}

// loadKeyPair loads the key pair from file
func (l *LocalSigner) loadKeyPair() error {
	privateKeyPEM, err := os.ReadFile(l.config.KeyPath)
	if err != nil {
		return domain.ErrInvalidKeyConfig
	}

	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return domain.ErrInvalidKeyConfig
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return domain.ErrInvalidKeyConfig
	}

	l.privateKey = privateKey
	l.publicKey = &privateKey.PublicKey
	return nil
}

// generateKeyPair generates a new RSA key pair, persisting it when a path is configured
func (l *LocalSigner) generateKeyPair() error {
	privateKey, err := rsa.GenerateKey(rand.Reader, l.config.KeySize)
	if err != nil {
		return domain.ErrInvalidKeyConfig
	}

	if l.config.KeyPath != "" {
		privateKeyPEM := pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
		})
		if err := os.WriteFile(l.config.KeyPath, privateKeyPEM, 0600); err != nil {
			return domain.ErrInvalidKeyConfig
		}
	}

	l.privateKey = privateKey
	l.publicKey = &privateKey.PublicKey
	return nil
}

// Sign signs a claim set and returns the compact JWS
func (l *LocalSigner) Sign(claims map[string]interface{}) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	token := jwt.NewWithClaims(l.method, jwt.MapClaims(claims))
	token.Header["kid"] = l.keyID

	signed, err := token.SignedString(l.privateKey)
	if err != nil {
		l.logger.Error("Failed to sign claims", zap.Error(err))
		return "", domain.ErrInternal
	}
	return signed, nil
}

// Verify parses and verifies a compact JWS, returning its claims
func (l *LocalSigner) Verify(tokenString string) (map[string]interface{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, domain.ErrInvalidJWT
		}
		return l.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrInvalidJWT
	}
	return claims, nil
}

// GetPublicKey returns the public key
func (l *LocalSigner) GetPublicKey() *rsa.PublicKey {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.publicKey
}

// GetPrivateKey returns the private key; needed by the PAT middleware's verifier
func (l *LocalSigner) GetPrivateKey() *rsa.PrivateKey {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.privateKey
}

// GetKeyID returns the current key ID
func (l *LocalSigner) GetKeyID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.keyID
}

// Algorithm returns the JWS algorithm name
func (l *LocalSigner) Algorithm() string {
	return l.config.Algorithm
}

// RotateKey generates a new key pair
func (l *LocalSigner) RotateKey() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.generateKeyPair(); err != nil {
		return domain.ErrInvalidKeyConfig
	}

	l.keyID = generateKeyID(l.privateKey)
	l.lastRotation = time.Now()

	l.logger.Info("Signing key rotated", zap.String("key_id", l.keyID))
	return nil
}

// GetLastRotation returns the last key rotation time
func (l *LocalSigner) GetLastRotation() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastRotation
}

// generateKeyID generates a unique key ID from the private key
func generateKeyID(key *rsa.PrivateKey) string {
	modulus := key.N.Bytes()
	exponent := []byte{byte(key.E)}

	data := append(modulus, exponent...)
	hash := sha256.Sum256(data)

	return base64.RawURLEncoding.EncodeToString(hash[:])
}
