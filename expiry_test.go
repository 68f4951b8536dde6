package certsd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChain(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ChainFile)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestExpiryGate(t *testing.T) {
	now := fixedNow
	key := newSigner(t, certcrypto.EC256)
	gate := NewExpiryGate(2, func() time.Time { return now }, discardLogger())

	tests := []struct {
		name     string
		notAfter time.Time
		want     Decision
	}{
		{"three months left", now.AddDate(0, 3, 0), RenewalNotNeeded},
		{"one second past threshold", now.AddDate(0, 2, 0).Add(time.Second), RenewalNotNeeded},
		{"exactly at threshold", now.AddDate(0, 2, 0), RenewalRequired},
		{"one month left", now.AddDate(0, 1, 0), RenewalRequired},
		{"expired", now.Add(-time.Hour), RenewalRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeChain(t, selfSignedChain(t, key, "example.com", tt.notAfter))
			got, expiry, err := gate.Check(key, path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.WithinDuration(t, tt.notAfter, expiry, time.Second)
		})
	}
}

func TestExpiryGateMissingChain(t *testing.T) {
	gate := NewExpiryGate(2, nil, discardLogger())
	got, expiry, err := gate.Check(nil, filepath.Join(t.TempDir(), ChainFile))
	require.NoError(t, err)
	assert.Equal(t, RenewalRequired, got)
	assert.True(t, expiry.IsZero())
}

func TestExpiryGateCorruptChain(t *testing.T) {
	gate := NewExpiryGate(2, nil, discardLogger())
	_, _, err := gate.Check(nil, writeChain(t, []byte("-----BEGIN NOTHING-----")))
	assert.ErrorIs(t, err, ErrCertificateParse)
}

func TestExpiryGateKeyMismatch(t *testing.T) {
	issued := newSigner(t, certcrypto.EC256)
	current := newSigner(t, certcrypto.EC256)
	gate := NewExpiryGate(2, func() time.Time { return fixedNow }, discardLogger())
	path := writeChain(t, selfSignedChain(t, issued, "example.com", fixedNow.AddDate(0, 3, 0)))

	got, _, err := gate.Check(current, path)
	require.NoError(t, err)
	assert.Equal(t, RenewalRequired, got, "a chain for another key must be replaced")

	got, _, err = gate.Check(issued, path)
	require.NoError(t, err)
	assert.Equal(t, RenewalNotNeeded, got)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "renewal_required", RenewalRequired.String())
	assert.Equal(t, "renewal_not_needed", RenewalNotNeeded.String())
}
