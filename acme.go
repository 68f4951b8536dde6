package certsd

import (
	"context"
	"crypto"
	"time"
)

// AuthzStatus is the status of an ACME authorization as reported by the CA.
type AuthzStatus string

const (
	AuthzPending AuthzStatus = "pending"
	AuthzValid   AuthzStatus = "valid"
	AuthzInvalid AuthzStatus = "invalid"
	AuthzUnknown AuthzStatus = "unknown"
)

// DirectoryFactory opens the ACME directory at url.
type DirectoryFactory func(ctx context.Context, url string) (Directory, error)

// Directory is an ACME CA endpoint.
type Directory interface {
	// RegisterAccount creates a new account for key.
	RegisterAccount(ctx context.Context, key crypto.Signer, contacts []string) (Account, error)
	// LoadAccount resolves the existing account bound to key.
	LoadAccount(ctx context.Context, key crypto.Signer, contacts []string) (Account, error)
}

type Account interface {
	NewOrder(ctx context.Context, name string, altNames []string) (Order, error)
}

// Order is an in-flight ACME order.
type Order interface {
	// Refresh reloads the order state from the CA.
	Refresh(ctx context.Context) error
	// ConfirmValidations reports whether all authorizations are satisfied and,
	// if so, returns the order ready for its CSR.
	ConfirmValidations(ctx context.Context) (FinalizableOrder, bool, error)
	Authorizations(ctx context.Context) ([]Authorization, error)
}

type Authorization interface {
	Domain() string
	NeedsChallenge() bool
	DNSChallenge() (Challenge, bool)
	// Status fetches the current status from the CA.
	Status(ctx context.Context) (AuthzStatus, error)
}

type Challenge interface {
	// Proof is the value to publish in the _acme-challenge TXT record.
	Proof() (string, error)
	// Validate asks the CA to check the proof and polls every pause until it settles.
	Validate(ctx context.Context, pause time.Duration) error
}

type FinalizableOrder interface {
	// Finalize submits a CSR built from key and polls every pollInterval until issuance.
	Finalize(ctx context.Context, key crypto.Signer, pollInterval time.Duration) (CertOrder, error)
}

type CertOrder interface {
	// DownloadCertificate returns the PEM chain, leaf first.
	DownloadCertificate(ctx context.Context) ([]byte, error)
}
