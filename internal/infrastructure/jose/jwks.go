package jose

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
)

// jwksCacheDuration bounds how long a built JWK set is served before it is
// rebuilt from the live key; rotation also invalidates it implicitly because
// the key id changes.
const jwksCacheDuration = 5 * time.Minute

// JWKSService exposes the signer's public keys as a JWK set
type JWKSService struct {
	signer domain.SigningStrategy
	logger *zap.Logger

	mu       sync.RWMutex
	cached   map[string]interface{}
	cachedID string
	lastSync time.Time
}

// NewJWKSService creates a JWKS provider over the signing strategy
func NewJWKSService(signer domain.SigningStrategy, logger *zap.Logger) *JWKSService {
	return &JWKSService{signer: signer, logger: logger}
}

// GetJWKS returns the JWK set for the current signing key
func (s *JWKSService) GetJWKS(_ context.Context) (map[string]interface{}, error) {
	kid := s.signer.GetKeyID()

	s.mu.RLock()
	if s.cached != nil && s.cachedID == kid && time.Since(s.lastSync) < jwksCacheDuration {
		keys := s.cached
		s.mu.RUnlock()
		return keys, nil
	}
	s.mu.RUnlock()

	publicKey := s.signer.GetPublicKey()
	if publicKey == nil {
		s.logger.Error("No public key available for JWKS")
		return nil, domain.ErrInvalidKeyConfig
	}

	key, err := jwk.FromRaw(publicKey)
	if err != nil {
		s.logger.Error("Failed to build JWK from public key", zap.Error(err))
		return nil, domain.ErrInvalidKeyConfig
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, domain.ErrInvalidKeyConfig
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, domain.ErrInvalidKeyConfig
	}
	if err := key.Set(jwk.AlgorithmKey, s.signer.Algorithm()); err != nil {
		return nil, domain.ErrInvalidKeyConfig
	}

	// Round-trip through JSON to get a plain map for the response encoder
	raw, err := json.Marshal(key)
	if err != nil {
		return nil, domain.ErrInternal
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, domain.ErrInternal
	}

	keys := map[string]interface{}{
		"keys": []map[string]interface{}{entry},
	}

	s.mu.Lock()
	s.cached = keys
	s.cachedID = kid
	s.lastSync = time.Now()
	s.mu.Unlock()

	return keys, nil
}
