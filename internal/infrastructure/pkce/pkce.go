// Package pkce implements RFC 7636 Proof Key for Code Exchange: verifier
// generation and the one-shot validation performed at token exchange.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/ipede/uma-auth-service/internal/domain"
)

// maxEntropy bounds the random integer appended to the verifier
var maxEntropy = new(big.Int).Lsh(big.NewInt(1), 160)

// Generate produces a high-entropy code verifier and derives its challenge
// with the given transformation. The verifier is a UUID plus a large random
// integer rendered in base-32, comfortably above the 43-character minimum.
func Generate(method domain.CodeChallengeMethod) (*domain.CodeVerifier, error) {
	switch method {
	case domain.CodeChallengePlain, domain.CodeChallengeS256:
	default:
		return nil, domain.ErrInvalidCodeChallengeMethod
	}

	n, err := rand.Int(rand.Reader, maxEntropy)
	if err != nil {
		return nil, domain.ErrInternal
	}
	entropy := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(n.Bytes()))
	verifier := strings.ReplaceAll(uuid.NewString(), "-", "") + entropy

	return &domain.CodeVerifier{
		Verifier:  verifier,
		Challenge: DeriveChallenge(verifier, method),
		Method:    method,
	}, nil
}

// DeriveChallenge computes the challenge for a verifier. S256 is the RFC 7636
// base64url(SHA-256(verifier)) form.
func DeriveChallenge(verifier string, method domain.CodeChallengeMethod) string {
	if method == domain.CodeChallengeS256 {
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:])
	}
	return verifier
}

// Validate recomputes the challenge from the provided verifier using the
// stored transformation and compares in constant time. For S256, a stored
// challenge in the legacy lowercase-hex digest form (64 hex characters) is
// recognized and matched against the hex digest instead; generation never
// emits that form.
func Validate(verifier, storedChallenge string, method domain.CodeChallengeMethod) bool {
	if verifier == "" || storedChallenge == "" {
		return false
	}

	var computed string
	switch method {
	case domain.CodeChallengePlain:
		computed = verifier
	case domain.CodeChallengeS256:
		if isLegacyHexChallenge(storedChallenge) {
			hash := sha256.Sum256([]byte(verifier))
			computed = hex.EncodeToString(hash[:])
		} else {
			computed = DeriveChallenge(verifier, domain.CodeChallengeS256)
		}
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) == 1
}

// isLegacyHexChallenge reports whether the stored challenge is a full
// lowercase-hex SHA-256 digest. A base64url digest is 43 characters, so the
// length alone disambiguates.
func isLegacyHexChallenge(challenge string) bool {
	if len(challenge) != 64 {
		return false
	}
	for _, c := range challenge {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
