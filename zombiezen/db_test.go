package zombiezen

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/caasmo/certsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDb(t *testing.T) *Db {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddAndListCerts(t *testing.T) {
	ctx := context.Background()
	db := openTestDb(t)
	issued := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)

	certs := []certsd.Cert{
		{Identifier: "example.com", Domain: "example.com", CertificateChain: "chain-1", IssuedAt: issued, ExpiresAt: issued.AddDate(0, 3, 0)},
		{Identifier: "*.example.com", Domain: "example.com", Wildcard: true, CertificateChain: "chain-2", IssuedAt: issued.Add(time.Hour), ExpiresAt: issued.AddDate(0, 3, 0)},
		{Identifier: "example.com", Domain: "example.com", CertificateChain: "chain-3", IssuedAt: issued.AddDate(0, 2, 0), ExpiresAt: issued.AddDate(0, 5, 0)},
	}
	for _, c := range certs {
		require.NoError(t, db.AddCert(ctx, c))
	}

	all, err := db.ListCerts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "chain-3", all[0].CertificateChain, "newest first")
	assert.Equal(t, "chain-2", all[1].CertificateChain)
	assert.True(t, all[1].Wildcard)
	assert.False(t, all[0].Wildcard)
	assert.NotZero(t, all[0].ID)
	assert.True(t, issued.AddDate(0, 5, 0).Equal(all[0].ExpiresAt))
}

func TestLatestCert(t *testing.T) {
	ctx := context.Background()
	db := openTestDb(t)
	issued := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)

	latest, err := db.LatestCert(ctx, "example.com")
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, db.AddCert(ctx, certsd.Cert{Identifier: "example.com", Domain: "example.com", CertificateChain: "old", IssuedAt: issued, ExpiresAt: issued}))
	require.NoError(t, db.AddCert(ctx, certsd.Cert{Identifier: "example.com", Domain: "example.com", CertificateChain: "new", IssuedAt: issued.Add(24 * time.Hour), ExpiresAt: issued}))
	require.NoError(t, db.AddCert(ctx, certsd.Cert{Identifier: "*.example.com", Domain: "example.com", Wildcard: true, CertificateChain: "wild", IssuedAt: issued.Add(48 * time.Hour), ExpiresAt: issued}))

	latest, err = db.LatestCert(ctx, "example.com")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "new", latest.CertificateChain)
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.AddCert(ctx, certsd.Cert{Identifier: "example.com", Domain: "example.com", CertificateChain: "c", IssuedAt: time.Now(), ExpiresAt: time.Now()}))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	all, err := db.ListCerts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestNewRequiresPool(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}
