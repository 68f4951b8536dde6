package certsd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariant(t *testing.T) {
	assert.Equal(t, "example.com", Apex.Dir("example.com"))
	assert.Equal(t, "wild_example.com", WildcardCert.Dir("example.com"))
	assert.Equal(t, "example.com", Apex.OrderName("example.com"))
	assert.Equal(t, "*.example.com", WildcardCert.OrderName("example.com"))
	assert.Equal(t, "apex", Apex.String())
	assert.Equal(t, "wildcard", WildcardCert.String())
}

func TestPathsFor(t *testing.T) {
	p := PathsFor("/data", "example.com", WildcardCert)
	assert.Equal(t, filepath.Join("/data", "wild_example.com"), p.Dir)
	assert.Equal(t, filepath.Join("/data", "wild_example.com", "domain.key"), p.DomainKey)
	assert.Equal(t, filepath.Join("/data", "wild_example.com", "chained.pem"), p.Chain)

	day := time.Date(2026, time.January, 2, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, p.Chain+"-2026-01-02", p.ArchivePath(day))
}

func TestTimeFormatRoundTrip(t *testing.T) {
	in := time.Date(2026, time.May, 1, 10, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	s := TimeFormat(in)
	assert.Equal(t, "2026-05-01T08:30:00Z", s)

	out, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}
