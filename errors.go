package certsd

import "errors"

var (
	// ErrAuthorizationInvalid is returned when the CA marks the order's authorization invalid.
	ErrAuthorizationInvalid = errors.New("authorization invalid")

	// ErrOrderAttemptsExhausted is returned when an order is not ready within the polling budget.
	ErrOrderAttemptsExhausted = errors.New("order not confirmed within max attempts")

	// ErrRetriesExhausted is returned by the Retrier once every try has failed.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrCertificateParse is returned when an existing certificate chain cannot be parsed.
	ErrCertificateParse = errors.New("cannot parse certificate chain")

	// ErrNoAuthorizations is returned when an order carries no authorization.
	ErrNoAuthorizations = errors.New("order has no authorizations")

	// ErrNoDNSChallenge is returned when the CA offers no dns-01 challenge for an authorization.
	ErrNoDNSChallenge = errors.New("no dns-01 challenge offered")

	// ErrUnknownDomain is returned when a domain has no account entry in the configuration.
	ErrUnknownDomain = errors.New("domain not configured")
)
