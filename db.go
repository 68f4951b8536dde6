package certsd

import "context"

// Writer defines the interface for storing certificate history records.
type Writer interface {
	// AddCert adds a new certificate record to the history.
	AddCert(ctx context.Context, cert Cert) error
}

// Reader lists what a Writer stored.
type Reader interface {
	// LatestCert returns the most recent record for an identifier, or nil when there is none.
	LatestCert(ctx context.Context, identifier string) (*Cert, error)
	// ListCerts returns every record, newest first.
	ListCerts(ctx context.Context) ([]Cert, error)
}
