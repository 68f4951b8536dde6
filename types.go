package certsd

import (
	"path/filepath"
	"time"
)

const (
	AccountKeyFile  = "account.key"
	DomainKeyFile   = "domain.key"
	ChainFile       = "chained.pem"
	archiveDateForm = "2006-01-02"
)

// Variant selects which certificate of a domain is renewed: the apex name or its wildcard sibling.
type Variant struct {
	Wildcard bool
}

var (
	Apex         = Variant{}
	WildcardCert = Variant{Wildcard: true}
)

// Dir is the storage directory of the variant, relative to the data dir.
func (v Variant) Dir(domain string) string {
	if v.Wildcard {
		return "wild_" + domain
	}
	return domain
}

// OrderName is the identifier requested from the CA.
func (v Variant) OrderName(domain string) string {
	if v.Wildcard {
		return "*." + domain
	}
	return domain
}

func (v Variant) String() string {
	if v.Wildcard {
		return "wildcard"
	}
	return "apex"
}

// Paths resolves the on-disk artifacts of one domain variant.
type Paths struct {
	Dir       string
	DomainKey string
	Chain     string
}

func PathsFor(dataDir, domain string, v Variant) Paths {
	dir := filepath.Join(dataDir, v.Dir(domain))
	return Paths{
		Dir:       dir,
		DomainKey: filepath.Join(dir, DomainKeyFile),
		Chain:     filepath.Join(dir, ChainFile),
	}
}

// ArchivePath is the date-suffixed copy of the chain kept before it is replaced.
func (p Paths) ArchivePath(day time.Time) string {
	return p.Chain + "-" + day.Format(archiveDateForm)
}

// Cert represents a certificate history record
type Cert struct {
	ID               int64     // Primary Key (Populated on insert)
	Identifier       string    // Order identifier (e.g. example.com or *.example.com)
	Domain           string    // Configured domain the certificate belongs to
	Wildcard         bool      // Wildcard variant
	CertificateChain string    // PEM encoded certificate chain
	IssuedAt         time.Time // UTC timestamp of issuance
	ExpiresAt        time.Time // UTC timestamp of expiry
}

// TimeFormat renders timestamps the way they are stored in the history database.
func TimeFormat(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime is the inverse of TimeFormat.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
