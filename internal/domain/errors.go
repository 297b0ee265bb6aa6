package domain

import "errors"

var (
	// ErrInvalidRequest is returned when a request is malformed or missing parameters
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidClient is returned when client authentication fails
	ErrInvalidClient = errors.New("invalid client")

	// ErrDisabledClient is returned when the client exists but is deactivated
	ErrDisabledClient = errors.New("disabled client")

	// ErrInvalidGrant is returned for an expired, revoked, already consumed or
	// mismatched authorization artifact
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrUnauthorizedClient is returned when the client is not entitled to the requested grant type
	ErrUnauthorizedClient = errors.New("unauthorized client")

	// ErrUnsupportedGrantType is returned when the grant type is unknown
	ErrUnsupportedGrantType = errors.New("unsupported grant type")

	// ErrInvalidScope is returned when the requested scope exceeds the granted scope
	ErrInvalidScope = errors.New("invalid scope")

	// ErrGrantNotFound is returned on a registry miss; an expired entry is
	// reported identically so callers cannot distinguish missing from expired
	ErrGrantNotFound = errors.New("grant not found")

	// ErrCodeAlreadyConsumed is returned on a second redemption of an authorization code
	ErrCodeAlreadyConsumed = errors.New("authorization code already consumed")

	// ErrTicketNotFound covers both unknown and expired permission tickets
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrResourceNotFound is returned when a permission references an unregistered resource
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidJWE is returned for malformed ciphertext, a bad segment count or
	// a failed integrity check
	ErrInvalidJWE = errors.New("invalid JWE")

	// ErrInvalidJWT is returned for malformed claims or a bad signature
	ErrInvalidJWT = errors.New("invalid JWT")

	// ErrTokenExpired is returned when a token is past its expiration time
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidKeyConfig is returned for an unsupported algorithm or missing key;
	// surfaced at startup, never deferred to request time
	ErrInvalidKeyConfig = errors.New("invalid key configuration")

	// ErrInvalidCodeChallengeMethod is returned for an unknown PKCE transformation
	ErrInvalidCodeChallengeMethod = errors.New("invalid code challenge method")

	// ErrAuthorizationPending is returned while a CIBA request awaits the end user
	ErrAuthorizationPending = errors.New("authorization pending")

	// ErrAccessDenied is returned when the end user or a policy denied the request
	ErrAccessDenied = errors.New("access denied")

	// ErrEntryNotFound is returned by an entry store on a miss
	ErrEntryNotFound = errors.New("entry not found")

	// ErrInternal is returned when there is an internal server error
	ErrInternal = errors.New("internal server error")
)
