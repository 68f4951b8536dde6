// Package cloudflare manages the TXT records of one Cloudflare zone.
package cloudflare

import (
	"context"
	"fmt"

	"github.com/caasmo/certsd"
	cf "github.com/cloudflare/cloudflare-go"
)

const recordTypeTXT = "TXT"

// Provider implements certsd.DNSProvider for a single zone.
type Provider struct {
	api    *cf.API
	zoneID string
}

// New creates a provider for zoneID authenticated with an API token. Extra options,
// such as cf.BaseURL in tests, are passed to the Cloudflare client.
func New(apiToken, zoneID string, opts ...cf.Option) (*Provider, error) {
	if apiToken == "" || zoneID == "" {
		return nil, fmt.Errorf("cloudflare: api token and zone id are required")
	}
	api, err := cf.NewWithAPIToken(apiToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: create client: %w", err)
	}
	return &Provider{api: api, zoneID: zoneID}, nil
}

// Factory adapts New to certsd.DNSProviderFactory.
func Factory(opts ...cf.Option) certsd.DNSProviderFactory {
	return func(account certsd.DomainAccount) (certsd.DNSProvider, error) {
		return New(account.CloudflareAPIToken, account.CloudflareZoneID, opts...)
	}
}

func (p *Provider) ListTXTRecords(ctx context.Context) ([]certsd.DNSRecord, error) {
	rrs, _, err := p.api.ListDNSRecords(ctx, cf.ZoneIdentifier(p.zoneID), cf.ListDNSRecordsParams{
		Type: recordTypeTXT,
	})
	if err != nil {
		return nil, fmt.Errorf("cloudflare: list TXT records in zone %s: %w", p.zoneID, err)
	}
	records := make([]certsd.DNSRecord, 0, len(rrs))
	for _, rr := range rrs {
		// be extra safe about only returning TXT records
		if rr.Type != recordTypeTXT {
			continue
		}
		records = append(records, certsd.DNSRecord{ID: rr.ID, Name: rr.Name, Content: rr.Content})
	}
	return records, nil
}

func (p *Provider) CreateTXTRecord(ctx context.Context, record certsd.DNSRecord, ttl int) (certsd.DNSRecord, error) {
	rr, err := p.api.CreateDNSRecord(ctx, cf.ZoneIdentifier(p.zoneID), cf.CreateDNSRecordParams{
		Type:    recordTypeTXT,
		Name:    record.Name,
		Content: record.Content,
		TTL:     ttl,
		Proxied: cf.BoolPtr(false),
	})
	if err != nil {
		return certsd.DNSRecord{}, fmt.Errorf("cloudflare: create TXT record %s: %w", record.Name, err)
	}
	return certsd.DNSRecord{ID: rr.ID, Name: rr.Name, Content: rr.Content}, nil
}

func (p *Provider) DeleteRecord(ctx context.Context, id string) error {
	if err := p.api.DeleteDNSRecord(ctx, cf.ZoneIdentifier(p.zoneID), id); err != nil {
		return fmt.Errorf("cloudflare: delete record %s: %w", id, err)
	}
	return nil
}
