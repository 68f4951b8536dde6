package zombiezen

import (
	"context"
	"fmt"

	"github.com/caasmo/certsd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS certificates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier TEXT NOT NULL,
	domain TEXT NOT NULL,
	wildcard INTEGER NOT NULL DEFAULT 0,
	certificate_chain TEXT NOT NULL,
	issued_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_certificates_identifier ON certificates (identifier, issued_at);
`

const selectColumns = `SELECT id, identifier, domain, wildcard, certificate_chain, issued_at, expires_at FROM certificates`

// Db implements certsd.Writer and certsd.Reader using zombiezen/sqlite.
type Db struct {
	pool  *sqlitex.Pool
	owned bool
}

// New wraps a pool managed by the caller.
func New(pool *sqlitex.Pool) *Db {
	if pool == nil {
		panic("zombiezen.New: received nil pool")
	}
	return &Db{pool: pool}
}

// Open creates the database file if needed, ensures the schema and owns the pool.
func Open(ctx context.Context, path string) (*Db, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags:    sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenWAL,
		PoolSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	d := &Db{pool: pool, owned: true}
	if err := d.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the pool when it was opened by Open.
func (d *Db) Close() error {
	if !d.owned {
		return nil
	}
	return d.pool.Close()
}

func (d *Db) EnsureSchema(ctx context.Context) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("db: failed to get connection: %w", err)
	}
	defer d.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("db: failed to create schema: %w", err)
	}
	return nil
}

// AddCert adds a new certificate record to the 'certificates' table.
func (d *Db) AddCert(ctx context.Context, cert certsd.Cert) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("db: failed to get connection: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO certificates (
			identifier, domain, wildcard, certificate_chain, issued_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?);`,
		&sqlitex.ExecOptions{
			Args: []any{
				cert.Identifier,
				cert.Domain,
				boolInt(cert.Wildcard),
				cert.CertificateChain,
				certsd.TimeFormat(cert.IssuedAt),
				certsd.TimeFormat(cert.ExpiresAt),
			},
		})
	if err != nil {
		return fmt.Errorf("db: failed to insert certificate for identifier %q: %w", cert.Identifier, err)
	}
	return nil
}

// LatestCert returns the most recently issued record for identifier, or nil.
func (d *Db) LatestCert(ctx context.Context, identifier string) (*certsd.Cert, error) {
	certs, err := d.query(ctx, selectColumns+` WHERE identifier = ? ORDER BY issued_at DESC, id DESC LIMIT 1;`, identifier)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, nil
	}
	return &certs[0], nil
}

// ListCerts returns every record, newest first.
func (d *Db) ListCerts(ctx context.Context) ([]certsd.Cert, error) {
	return d.query(ctx, selectColumns+` ORDER BY issued_at DESC, id DESC;`)
}

func (d *Db) query(ctx context.Context, query string, args ...any) ([]certsd.Cert, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: failed to get connection: %w", err)
	}
	defer d.pool.Put(conn)

	var certs []certsd.Cert
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			issued, err := certsd.ParseTime(stmt.ColumnText(5))
			if err != nil {
				return fmt.Errorf("issued_at: %w", err)
			}
			expires, err := certsd.ParseTime(stmt.ColumnText(6))
			if err != nil {
				return fmt.Errorf("expires_at: %w", err)
			}
			certs = append(certs, certsd.Cert{
				ID:               stmt.ColumnInt64(0),
				Identifier:       stmt.ColumnText(1),
				Domain:           stmt.ColumnText(2),
				Wildcard:         stmt.ColumnInt64(3) != 0,
				CertificateChain: stmt.ColumnText(4),
				IssuedAt:         issued,
				ExpiresAt:        expires,
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("db: failed to query certificates: %w", err)
	}
	return certs, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
