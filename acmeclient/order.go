package acmeclient

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/caasmo/certsd"
	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/challenge"
)

type order struct {
	client   *Client
	core     *api.Core
	location string
	current  acme.Order
}

func (o *order) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ext, err := o.core.Orders.Get(o.location)
	if err != nil {
		return fmt.Errorf("acme: get order %s: %w", o.location, err)
	}
	o.current = ext.Order
	return nil
}

func (o *order) ConfirmValidations(ctx context.Context) (certsd.FinalizableOrder, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !orderReady(o.current.Status) {
		return nil, false, nil
	}
	return o, true, nil
}

func (o *order) Authorizations(ctx context.Context) ([]certsd.Authorization, error) {
	auths := make([]certsd.Authorization, 0, len(o.current.Authorizations))
	for _, url := range o.current.Authorizations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		authz, err := o.core.Authorizations.Get(url)
		if err != nil {
			return nil, fmt.Errorf("acme: get authorization %s: %w", url, err)
		}
		auths = append(auths, &authorization{client: o.client, core: o.core, url: url, authz: authz})
	}
	return auths, nil
}

// Finalize submits the CSR and polls the order until the certificate URL is available.
// An order the CA already issued is not finalized again.
func (o *order) Finalize(ctx context.Context, key crypto.Signer, pollInterval time.Duration) (certsd.CertOrder, error) {
	if o.current.Status == acme.StatusValid && o.current.Certificate != "" {
		o.client.logger.Info("order already issued, skipping finalize", "order_url", o.location)
		return &certOrder{core: o.core, url: o.current.Certificate}, nil
	}
	if len(o.current.Identifiers) == 0 {
		return nil, fmt.Errorf("acme: order %s has no identifiers", o.location)
	}
	names := make([]string, 0, len(o.current.Identifiers))
	for _, id := range o.current.Identifiers {
		names = append(names, id.Value)
	}
	csr, err := certcrypto.GenerateCSR(key, names[0], names[1:], false)
	if err != nil {
		return nil, fmt.Errorf("acme: generate CSR: %w", err)
	}

	ext, err := o.core.Orders.UpdateForCSR(o.current.Finalize, csr)
	if err != nil {
		return nil, fmt.Errorf("acme: finalize order %s: %w", o.location, err)
	}
	current := ext.Order

	for poll := 0; ; poll++ {
		switch current.Status {
		case acme.StatusValid:
			if current.Certificate != "" {
				o.current = current
				return &certOrder{core: o.core, url: current.Certificate}, nil
			}
		case acme.StatusInvalid:
			return nil, fmt.Errorf("acme: order %s became invalid after finalize: %w", o.location, problemOrStatus(current.Error, current.Status))
		}
		if poll >= maxFinalizePolls {
			return nil, fmt.Errorf("acme: order %s not issued after %d polls (status %s)", o.location, poll, current.Status)
		}
		o.client.logger.Debug("waiting for issuance", "order_url", o.location, "status", current.Status)
		if err := o.client.sleep(ctx, pollInterval); err != nil {
			return nil, err
		}
		ext, err := o.core.Orders.Get(o.location)
		if err != nil {
			return nil, fmt.Errorf("acme: get order %s: %w", o.location, err)
		}
		current = ext.Order
	}
}

type certOrder struct {
	core *api.Core
	url  string
}

func (c *certOrder) DownloadCertificate(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chain, _, err := c.core.Certificates.Get(c.url, true)
	if err != nil {
		return nil, fmt.Errorf("acme: download certificate %s: %w", c.url, err)
	}
	return chain, nil
}

type authorization struct {
	client *Client
	core   *api.Core
	url    string
	authz  acme.Authorization
}

func (a *authorization) Domain() string {
	if a.authz.Wildcard {
		return "*." + a.authz.Identifier.Value
	}
	return a.authz.Identifier.Value
}

func (a *authorization) NeedsChallenge() bool {
	return a.authz.Status == acme.StatusPending
}

func (a *authorization) DNSChallenge() (certsd.Challenge, bool) {
	ch, ok := findDNSChallenge(a.authz.Challenges)
	if !ok {
		return nil, false
	}
	return &dnsChallenge{client: a.client, core: a.core, authzURL: a.url, challenge: ch}, true
}

func (a *authorization) Status(ctx context.Context) (certsd.AuthzStatus, error) {
	if err := ctx.Err(); err != nil {
		return certsd.AuthzUnknown, err
	}
	authz, err := a.core.Authorizations.Get(a.url)
	if err != nil {
		return certsd.AuthzUnknown, fmt.Errorf("acme: get authorization %s: %w", a.url, err)
	}
	a.authz = authz
	return authzStatus(authz.Status), nil
}

type dnsChallenge struct {
	client    *Client
	core      *api.Core
	authzURL  string
	challenge acme.Challenge
}

func (c *dnsChallenge) Proof() (string, error) {
	keyAuth, err := c.core.GetKeyAuthorization(c.challenge.Token)
	if err != nil {
		return "", fmt.Errorf("acme: key authorization: %w", err)
	}
	return dnsProof(keyAuth), nil
}

// Validate tells the CA the record is in place, then polls the authorization every
// pause until it is valid or invalid.
func (c *dnsChallenge) Validate(ctx context.Context, pause time.Duration) error {
	if c.challenge.Status == acme.StatusValid {
		return nil
	}
	if _, err := c.core.Challenges.New(c.challenge.URL); err != nil {
		return fmt.Errorf("acme: accept challenge %s: %w", c.challenge.URL, err)
	}

	for poll := 1; poll <= maxValidationPolls; poll++ {
		if err := c.client.sleep(ctx, pause); err != nil {
			return err
		}
		authz, err := c.core.Authorizations.Get(c.authzURL)
		if err != nil {
			return fmt.Errorf("acme: get authorization %s: %w", c.authzURL, err)
		}
		switch authz.Status {
		case acme.StatusValid:
			return nil
		case acme.StatusInvalid:
			ch, _ := findDNSChallenge(authz.Challenges)
			return fmt.Errorf("acme: challenge for %s rejected: %w", authz.Identifier.Value, problemOrStatus(ch.Error, authz.Status))
		}
		c.client.logger.Debug("waiting for validation", "authz_url", c.authzURL, "status", authz.Status, "poll", poll)
	}
	return fmt.Errorf("acme: authorization %s still pending after %d polls", c.authzURL, maxValidationPolls)
}

// dnsProof is the TXT value for a key authorization: base64url(sha256(keyAuth)).
func dnsProof(keyAuth string) string {
	sum := sha256.Sum256([]byte(keyAuth))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func findDNSChallenge(challenges []acme.Challenge) (acme.Challenge, bool) {
	for _, ch := range challenges {
		if ch.Type == challenge.DNS01.String() {
			return ch, true
		}
	}
	return acme.Challenge{}, false
}

func authzStatus(status string) certsd.AuthzStatus {
	switch status {
	case acme.StatusPending:
		return certsd.AuthzPending
	case acme.StatusValid:
		return certsd.AuthzValid
	case acme.StatusInvalid:
		return certsd.AuthzInvalid
	default:
		return certsd.AuthzUnknown
	}
}

func orderReady(status string) bool {
	return status == acme.StatusReady || status == acme.StatusValid
}

func problemOrStatus(problem *acme.ProblemDetails, status string) error {
	if problem != nil {
		return problem
	}
	return fmt.Errorf("status %s", status)
}
