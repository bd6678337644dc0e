package authcore

import "errors"

var (
	// ErrEngineNotReady reports use of an Engine before Builder.Build completed.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrTokenInvalid reports an access token that was tampered with or never
	// produced by this system.
	ErrTokenInvalid = errors.New("invalid access token")
	// ErrTokenExpired reports an access token past its expiry. Callers can
	// offer a refresh instead of a re-login on this failure.
	ErrTokenExpired = errors.New("access token expired")
	// ErrRefreshInvalid reports a refresh token that failed decoding.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse reports presentation of a refresh token that was already
	// rotated away or revoked. This is a security signal, not a client bug.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrTokenGenerationFailed reports that no unique refresh token could be
	// persisted within the bounded retry budget.
	ErrTokenGenerationFailed = errors.New("token generation failed")
	// ErrPrincipalNotFound reports a structurally valid token whose principal
	// no longer exists in the profile store.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrStoreUnavailable reports a refresh-token backend failure. It is kept
	// distinct from the authentication failures above so callers never map an
	// outage to a 401.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrUsageUnavailable reports a usage-store failure on snapshot reads.
	ErrUsageUnavailable = errors.New("usage store unavailable")
)
