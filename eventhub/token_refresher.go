package eventhub

import (
	"context"
	"time"
)

// AccessToken is a credential token together with its expiry instant.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// TokenCredential acquires tokens for resource scopes.
type TokenCredential interface {
	GetToken(ctx context.Context, scopes []string) (AccessToken, error)
}

// StaticCredential returns a fixed token for every request, stamped with a
// sliding validity window. Intended for shared-access-signature style
// deployments and for tests.
type StaticCredential struct {
	Token    string
	Validity time.Duration
}

// GetToken returns the fixed token with an expiry computed from Validity.
func (credential *StaticCredential) GetToken(ctx context.Context, scopes []string) (AccessToken, error) {
	validity := credential.Validity
	if validity <= 0 {
		validity = time.Hour
	}
	return AccessToken{
		Token:     credential.Token,
		ExpiresOn: time.Now().Add(validity),
	}, nil
}

// TokenRefresher wraps a credential and requests tokens scoped to a single
// resource address. It backs both initial link authorization and the
// timer-driven renewals that keep links valid.
type TokenRefresher struct {
	credential TokenCredential
}

// NewTokenRefresher returns a new TokenRefresher.
func NewTokenRefresher(credential TokenCredential) *TokenRefresher {
	return &TokenRefresher{credential: credential}
}

// RequestToken acquires a token for the resource and returns it with its
// expiry. Context cancellation surfaces unwrapped; credential failures are
// reported as AuthorizationError.
func (refresher *TokenRefresher) RequestToken(ctx context.Context, resource string) (AccessToken, error) {
	if refresher == nil || refresher.credential == nil {
		return AccessToken{}, NewError(AuthorizationError, "no credential configured")
	}
	if resource == "" {
		return AccessToken{}, NewError(ArgumentError, "token resource cannot be empty")
	}

	token, err := refresher.credential.GetToken(ctx, []string{resource})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return AccessToken{}, ctxErr
		}
		return AccessToken{}, NewError(AuthorizationError, err)
	}
	if token.Token == "" {
		return AccessToken{}, NewError(AuthorizationError, "credential returned an empty token")
	}

	return token, nil
}
