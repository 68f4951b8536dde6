package certsd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const challengeLabel = "_acme-challenge"

// DNSRecord is a TXT record at the DNS provider.
type DNSRecord struct {
	ID      string
	Name    string
	Content string
}

// DNSProvider manages TXT records of a single zone.
type DNSProvider interface {
	ListTXTRecords(ctx context.Context) ([]DNSRecord, error)
	CreateTXTRecord(ctx context.Context, record DNSRecord, ttl int) (DNSRecord, error)
	DeleteRecord(ctx context.Context, id string) error
}

// ChallengeCoordinator publishes and removes the _acme-challenge TXT record of a domain.
// It keeps no state of its own; the provider is the source of truth.
type ChallengeCoordinator struct {
	provider DNSProvider
	ttl      int
	logger   *slog.Logger
}

func NewChallengeCoordinator(provider DNSProvider, ttl int, logger *slog.Logger) *ChallengeCoordinator {
	if provider == nil || logger == nil {
		panic("NewChallengeCoordinator: received nil provider or logger")
	}
	return &ChallengeCoordinator{
		provider: provider,
		ttl:      ttl,
		logger:   logger.With("component", "dns_challenge"),
	}
}

// ChallengeRecordName is the fully qualified TXT record name for domain.
func ChallengeRecordName(domain string) string {
	return challengeLabel + "." + domain + "."
}

// List returns the ids of the TXT records whose name contains both _acme-challenge and domain.
func (c *ChallengeCoordinator) List(ctx context.Context, domain string) ([]string, error) {
	records, err := c.provider.ListTXTRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("dns challenge: list TXT records for %s: %w", domain, err)
	}
	var ids []string
	for _, rec := range records {
		if strings.Contains(rec.Name, challengeLabel) && strings.Contains(rec.Name, domain) {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

// DeleteAll removes every challenge record of domain. Failures are logged and skipped.
func (c *ChallengeCoordinator) DeleteAll(ctx context.Context, domain string) {
	ids, err := c.List(ctx, domain)
	if err != nil {
		c.logger.Error("cannot list challenge records", "domain", domain, "error", err)
		return
	}
	for _, id := range ids {
		if err := c.provider.DeleteRecord(ctx, id); err != nil {
			c.logger.Error("failed to delete challenge record", "domain", domain, "record_id", id, "error", err)
			continue
		}
		c.logger.Info("challenge record deleted", "domain", domain, "record_id", id)
	}
}

// Create publishes proof as _acme-challenge.<domain>. Callers delete stale records first.
func (c *ChallengeCoordinator) Create(ctx context.Context, domain, proof string) error {
	rec, err := c.provider.CreateTXTRecord(ctx, DNSRecord{
		Name:    ChallengeRecordName(domain),
		Content: proof,
	}, c.ttl)
	if err != nil {
		return fmt.Errorf("dns challenge: create TXT record for %s: %w", domain, err)
	}
	c.logger.Info("challenge record created", "domain", domain, "record_id", rec.ID)
	return nil
}
