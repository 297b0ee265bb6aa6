// Package registry implements the grant registry: the authoritative
// directory from token values to grants, with exactly-once authorization
// code consumption built on the entry store's conditional write.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"go.uber.org/zap"
)

const (
	grantKeyPrefix      = "grant:"
	codeKeyPrefix       = "code:"
	codeUsedKeyPrefix   = "codeused:"
	tokenKeyPrefix      = "token:"
	authReqKeyPrefix    = "authreq:"
	subjectKeyPrefix    = "subjecttokens:"
	revocationKeyMarker = "revokedepoch:"
)

// tokenRecord is what the registry indexes per token value. Only a digest of
// the value ever reaches the store.
type tokenRecord struct {
	ReferenceID string           `json:"reference_id"`
	Kind        domain.TokenKind `json:"kind"`
	GrantID     string           `json:"grant_id"`
	Subject     string           `json:"subject,omitempty"`
	Scopes      []string         `json:"scopes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// GrantRegistry implements domain.GrantRegistry over a domain.EntryStore.
// The registry itself is a thin concurrency-safe facade: the store call is
// the only suspension point, and consumption uses the store's put-if-absent
// so two concurrent redemptions of the same code yield exactly one success.
type GrantRegistry struct {
	store    domain.EntryStore
	logger   *zap.Logger
	grantTTL time.Duration
	codeTTL  time.Duration
}

// Option configures a GrantRegistry
type Option func(*GrantRegistry)

// WithGrantTTL bounds how long a grant record is retained
func WithGrantTTL(ttl time.Duration) Option {
	return func(r *GrantRegistry) { r.grantTTL = ttl }
}

// WithCodeTTL sets the authorization code lifetime
func WithCodeTTL(ttl time.Duration) Option {
	return func(r *GrantRegistry) { r.codeTTL = ttl }
}

// New creates a grant registry over the given entry store
func New(store domain.EntryStore, logger *zap.Logger, opts ...Option) *GrantRegistry {
	r := &GrantRegistry{
		store:    store,
		logger:   logger,
		grantTTL: 30 * 24 * time.Hour,
		codeTTL:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a grant and indexes its lookup artifacts (authorization
// code, CIBA auth_req_id) so they can be resolved later
func (r *GrantRegistry) Register(ctx context.Context, grant *domain.Grant) error {
	if err := r.putGrant(ctx, grant); err != nil {
		return err
	}

	if grant.Code != "" {
		if err := r.store.Put(ctx, codeKeyPrefix+grant.Code, []byte(grant.ID), r.codeTTL); err != nil {
			return err
		}
	}
	if grant.AuthReqID != "" {
		ttl := time.Until(grant.CibaExpiry)
		if ttl <= 0 {
			ttl = r.codeTTL
		}
		if err := r.store.Put(ctx, authReqKeyPrefix+grant.AuthReqID, []byte(grant.ID), ttl); err != nil {
			return err
		}
	}

	r.logger.Debug("Grant registered",
		zap.String("grant_id", grant.ID),
		zap.String("grant_type", string(grant.Type)),
		zap.String("client_id", grant.ClientID))
	return nil
}

// UpdateGrant persists grant mutations
func (r *GrantRegistry) UpdateGrant(ctx context.Context, grant *domain.Grant) error {
	return r.putGrant(ctx, grant)
}

// IndexToken makes a minted token resolvable by value. Because the index key
// is derived from the token value and written once, a non-expired value maps
// to at most one grant.
func (r *GrantRegistry) IndexToken(ctx context.Context, token *domain.Token) error {
	grant, err := r.getGrant(ctx, token.GrantID)
	if err != nil {
		return err
	}

	record := tokenRecord{
		ReferenceID: token.ReferenceID,
		Kind:        token.Kind,
		GrantID:     token.GrantID,
		Subject:     grant.UserID,
		Scopes:      token.Scopes,
		CreatedAt:   token.CreatedAt,
		ExpiresAt:   token.ExpiresAt,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return domain.ErrTokenExpired
	}
	if err := r.store.Put(ctx, tokenKeyPrefix+digest(token.Value), raw, ttl); err != nil {
		return err
	}

	if grant.UserID != "" {
		r.appendSubjectIndex(ctx, grant.UserID, digest(token.Value))
	}
	return nil
}

// LookupByToken resolves a token value. A miss, an expired token, a revoked
// grant and a subject-wide revocation are all reported identically as
// domain.ErrGrantNotFound so callers cannot distinguish them.
func (r *GrantRegistry) LookupByToken(ctx context.Context, value string) (*domain.Token, *domain.Grant, error) {
	raw, err := r.store.Get(ctx, tokenKeyPrefix+digest(value))
	if err != nil {
		return nil, nil, domain.ErrGrantNotFound
	}

	var record tokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, nil, domain.ErrGrantNotFound
	}

	now := time.Now()
	if !now.Before(record.ExpiresAt) {
		return nil, nil, domain.ErrGrantNotFound
	}

	grant, err := r.getGrant(ctx, record.GrantID)
	if err != nil || grant.State == domain.GrantStateRevoked {
		return nil, nil, domain.ErrGrantNotFound
	}

	if record.Subject != "" && r.revokedByEpoch(ctx, record.Subject, record.CreatedAt) {
		return nil, nil, domain.ErrGrantNotFound
	}

	token := &domain.Token{
		Value:       value,
		Kind:        record.Kind,
		ReferenceID: record.ReferenceID,
		GrantID:     record.GrantID,
		Scopes:      record.Scopes,
		CreatedAt:   record.CreatedAt,
		ExpiresAt:   record.ExpiresAt,
	}
	return token, grant, nil
}

// ConsumeAuthorizationCode redeems a code exactly once. The tombstone write
// is the linearization point: whichever caller wins the conditional write
// owns the code, every other caller gets ErrCodeAlreadyConsumed.
func (r *GrantRegistry) ConsumeAuthorizationCode(ctx context.Context, code string) (*domain.Grant, error) {
	won, err := r.store.CasPut(ctx, codeUsedKeyPrefix+code, []byte("1"), 2*r.codeTTL)
	if err != nil {
		return nil, err
	}
	if !won {
		r.logger.Warn("Authorization code redeemed twice")
		return nil, domain.ErrCodeAlreadyConsumed
	}

	grantID, err := r.store.Get(ctx, codeKeyPrefix+code)
	if err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			return nil, domain.ErrInvalidGrant
		}
		return nil, err
	}
	_ = r.store.Delete(ctx, codeKeyPrefix+code)

	grant, err := r.getGrant(ctx, string(grantID))
	if err != nil {
		return nil, domain.ErrInvalidGrant
	}
	if grant.State != domain.GrantStateActive {
		return nil, domain.ErrInvalidGrant
	}

	grant.State = domain.GrantStateConsumed
	if err := r.putGrant(ctx, grant); err != nil {
		return nil, err
	}
	return grant, nil
}

// LookupByAuthReqID resolves a CIBA backchannel request id to its grant
func (r *GrantRegistry) LookupByAuthReqID(ctx context.Context, authReqID string) (*domain.Grant, error) {
	grantID, err := r.store.Get(ctx, authReqKeyPrefix+authReqID)
	if err != nil {
		return nil, domain.ErrGrantNotFound
	}
	return r.getGrant(ctx, string(grantID))
}

// Revoke invalidates a single token by value and marks its grant revoked
func (r *GrantRegistry) Revoke(ctx context.Context, tokenValue string) error {
	key := tokenKeyPrefix + digest(tokenValue)
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		// Revoking an unknown token is a no-op, not an oracle
		return nil
	}

	var record tokenRecord
	if err := json.Unmarshal(raw, &record); err == nil {
		if grant, err := r.getGrant(ctx, record.GrantID); err == nil {
			grant.State = domain.GrantStateRevoked
			_ = r.putGrant(ctx, grant)
		}
	}
	return r.store.Delete(ctx, key)
}

// RevokeAllForSubject invalidates every token held by the subject. The
// epoch marker is written first: any token whose creation time is at or
// before the marker fails lookup, so a mint racing with this call is dead
// on arrival even before the per-token deletes below reach it.
func (r *GrantRegistry) RevokeAllForSubject(ctx context.Context, subject string) error {
	epoch, err := time.Now().MarshalBinary()
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, revocationKeyMarker+subject, epoch, r.grantTTL); err != nil {
		return err
	}

	raw, err := r.store.Get(ctx, subjectKeyPrefix+subject)
	if err != nil {
		return nil
	}
	var digests []string
	if err := json.Unmarshal(raw, &digests); err != nil {
		return nil
	}
	for _, d := range digests {
		_ = r.store.Delete(ctx, tokenKeyPrefix+d)
	}
	_ = r.store.Delete(ctx, subjectKeyPrefix+subject)

	r.logger.Info("All tokens revoked for subject", zap.String("subject", subject))
	return nil
}

func (r *GrantRegistry) putGrant(ctx context.Context, grant *domain.Grant) error {
	raw, err := json.Marshal(grant)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, grantKeyPrefix+grant.ID, raw, r.grantTTL)
}

func (r *GrantRegistry) getGrant(ctx context.Context, id string) (*domain.Grant, error) {
	raw, err := r.store.Get(ctx, grantKeyPrefix+id)
	if err != nil {
		return nil, domain.ErrGrantNotFound
	}
	grant := &domain.Grant{}
	if err := json.Unmarshal(raw, grant); err != nil {
		return nil, domain.ErrGrantNotFound
	}
	return grant, nil
}

// revokedByEpoch reports whether a subject-wide revocation at or after the
// token's creation time is in effect
func (r *GrantRegistry) revokedByEpoch(ctx context.Context, subject string, createdAt time.Time) bool {
	raw, err := r.store.Get(ctx, revocationKeyMarker+subject)
	if err != nil {
		return false
	}
	var epoch time.Time
	if err := epoch.UnmarshalBinary(raw); err != nil {
		return false
	}
	return !createdAt.After(epoch)
}

// appendSubjectIndex records a token digest under its subject for later
// bulk revocation. Best effort: correctness of revoke-all rests on the
// epoch marker, this index only lets us delete eagerly.
func (r *GrantRegistry) appendSubjectIndex(ctx context.Context, subject, tokenDigest string) {
	key := subjectKeyPrefix + subject
	var digests []string
	if raw, err := r.store.Get(ctx, key); err == nil {
		_ = json.Unmarshal(raw, &digests)
	}
	digests = append(digests, tokenDigest)
	raw, err := json.Marshal(digests)
	if err != nil {
		return
	}
	if err := r.store.Put(ctx, key, raw, r.grantTTL); err != nil {
		r.logger.Warn("Failed to update subject token index", zap.String("subject", subject), zap.Error(err))
	}
}

// digest hashes a token value so the store never holds raw credentials
func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
