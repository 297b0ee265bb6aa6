package jose

import (
	"crypto/rsa"
	"strings"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"go.uber.org/zap"
)

// JweEncrypter implements domain.Encrypter on top of the jwx JWE
// implementation. The decrypter is selected by the type of the supplied
// secret: an RSA private key takes the asymmetric key-unwrapping path, a
// byte slice the direct/symmetric one.
type JweEncrypter struct {
	logger *zap.Logger
}

// NewJweEncrypter creates the JWE half of the JOSE pipeline
func NewJweEncrypter(logger *zap.Logger) *JweEncrypter {
	return &JweEncrypter{logger: logger}
}

// Encrypt produces a compact JWE for the payload
func (e *JweEncrypter) Encrypt(payload []byte, keyAlg, contentAlg string, recipientKey interface{}) (string, error) {
	alg, err := keyEncryptionAlgorithm(keyAlg)
	if err != nil {
		return "", err
	}
	enc, err := contentEncryptionAlgorithm(contentAlg)
	if err != nil {
		return "", err
	}

	encrypted, err := jwe.Encrypt(payload,
		jwe.WithKey(alg, recipientKey),
		jwe.WithContentEncryption(enc),
	)
	if err != nil {
		e.logger.Error("Failed to encrypt payload",
			zap.String("key_alg", keyAlg),
			zap.String("content_alg", contentAlg),
			zap.Error(err))
		return "", domain.ErrInvalidJWE
	}
	return string(encrypted), nil
}

// Decrypt parses and decrypts a compact JWE. A serialization without five
// dot-separated segments, an algorithm/secret mismatch and a failed
// integrity check all report domain.ErrInvalidJWE; the caller never learns
// which.
func (e *JweEncrypter) Decrypt(compact string, secret interface{}) ([]byte, error) {
	if strings.Count(compact, ".") != 4 {
		return nil, domain.ErrInvalidJWE
	}

	msg, err := jwe.Parse([]byte(compact))
	if err != nil {
		return nil, domain.ErrInvalidJWE
	}
	alg := msg.ProtectedHeaders().Algorithm()

	if err := algorithmMatchesSecret(alg, secret); err != nil {
		return nil, err
	}

	plaintext, err := jwe.Decrypt([]byte(compact), jwe.WithKey(alg, secret))
	if err != nil {
		e.logger.Debug("JWE decryption failed", zap.String("alg", alg.String()), zap.Error(err))
		return nil, domain.ErrInvalidJWE
	}
	return plaintext, nil
}

// algorithmMatchesSecret rejects a secret of the wrong shape for the header
// algorithm before handing it to the decrypter
func algorithmMatchesSecret(alg jwa.KeyEncryptionAlgorithm, secret interface{}) error {
	switch secret.(type) {
	case *rsa.PrivateKey:
		switch alg {
		case jwa.RSA1_5, jwa.RSA_OAEP, jwa.RSA_OAEP_256:
			return nil
		}
	case []byte:
		switch alg {
		case jwa.DIRECT, jwa.A128KW, jwa.A192KW, jwa.A256KW,
			jwa.PBES2_HS256_A128KW, jwa.PBES2_HS384_A192KW, jwa.PBES2_HS512_A256KW:
			return nil
		}
	}
	return domain.ErrInvalidJWE
}

func keyEncryptionAlgorithm(name string) (jwa.KeyEncryptionAlgorithm, error) {
	switch name {
	case "RSA1_5":
		return jwa.RSA1_5, nil
	case "RSA-OAEP":
		return jwa.RSA_OAEP, nil
	case "RSA-OAEP-256":
		return jwa.RSA_OAEP_256, nil
	case "dir":
		return jwa.DIRECT, nil
	case "A128KW":
		return jwa.A128KW, nil
	case "A192KW":
		return jwa.A192KW, nil
	case "A256KW":
		return jwa.A256KW, nil
	}
	return "", domain.ErrInvalidKeyConfig
}

func contentEncryptionAlgorithm(name string) (jwa.ContentEncryptionAlgorithm, error) {
	switch name {
	case "A128CBC-HS256":
		return jwa.A128CBC_HS256, nil
	case "A192CBC-HS384":
		return jwa.A192CBC_HS384, nil
	case "A256CBC-HS512":
		return jwa.A256CBC_HS512, nil
	case "A128GCM":
		return jwa.A128GCM, nil
	case "A192GCM":
		return jwa.A192GCM, nil
	case "A256GCM":
		return jwa.A256GCM, nil
	}
	return "", domain.ErrInvalidKeyConfig
}
