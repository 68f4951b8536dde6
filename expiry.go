package certsd

import (
	"crypto"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
)

// Decision is the outcome of the expiry gate.
type Decision int

const (
	RenewalRequired Decision = iota
	RenewalNotNeeded
)

func (d Decision) String() string {
	if d == RenewalNotNeeded {
		return "renewal_not_needed"
	}
	return "renewal_required"
}

// ExpiryGate decides from an existing chain whether a certificate must be renewed.
type ExpiryGate struct {
	months int
	now    func() time.Time
	logger *slog.Logger
}

func NewExpiryGate(renewBeforeMonths int, now func() time.Time, logger *slog.Logger) *ExpiryGate {
	if now == nil {
		now = time.Now
	}
	return &ExpiryGate{months: renewBeforeMonths, now: now, logger: logger}
}

// Check reads the chain at chainPath. A missing file requires renewal; an unreadable or
// unparsable one is an error so that corrupt state is never silently overwritten.
func (g *ExpiryGate) Check(domainKey crypto.Signer, chainPath string) (Decision, time.Time, error) {
	data, err := os.ReadFile(chainPath)
	if errors.Is(err, fs.ErrNotExist) {
		return RenewalRequired, time.Time{}, nil
	}
	if err != nil {
		return RenewalRequired, time.Time{}, fmt.Errorf("expiry: read %s: %w", chainPath, err)
	}

	leaf, err := certcrypto.ParsePEMCertificate(data)
	if err != nil {
		return RenewalRequired, time.Time{}, fmt.Errorf("%w: %s: %v", ErrCertificateParse, chainPath, err)
	}
	expiry := leaf.NotAfter

	if domainKey != nil && !publicKeysEqual(leaf.PublicKey, domainKey.Public()) {
		g.logger.Warn("certificate does not match domain key, renewing", "path", chainPath, "expires_at", expiry)
		return RenewalRequired, expiry, nil
	}

	deadline := g.now().AddDate(0, g.months, 0)
	if deadline.Before(expiry) {
		g.logger.Info("certificate is fresh, no need to renew", "path", chainPath, "expires_at", expiry)
		return RenewalNotNeeded, expiry, nil
	}
	g.logger.Info("certificate expires within threshold", "path", chainPath, "expires_at", expiry, "renew_before_months", g.months)
	return RenewalRequired, expiry, nil
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	k, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return k.Equal(b)
}
