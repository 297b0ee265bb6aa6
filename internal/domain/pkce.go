package domain

// CodeChallengeMethod is the PKCE transformation applied to the verifier
type CodeChallengeMethod string

const (
	CodeChallengePlain CodeChallengeMethod = "plain"
	CodeChallengeS256  CodeChallengeMethod = "S256"
)

// CodeVerifier is an ephemeral PKCE verifier/challenge pair. It is generated
// per authorization request, validated exactly once at token exchange and
// never persisted beyond the grant's lifetime.
type CodeVerifier struct {
	Verifier  string
	Challenge string
	Method    CodeChallengeMethod
}
