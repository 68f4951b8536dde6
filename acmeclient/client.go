// Package acmeclient implements the certsd ACME capabilities over lego's low level
// acme/api client.
package acmeclient

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caasmo/certsd"
	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"
	"github.com/go-acme/lego/v4/registration"
)

const (
	defaultUserAgent = "certsd"

	// Upper bounds on CA polls. Pauses are supplied by the caller.
	maxValidationPolls = 10
	maxFinalizePolls   = 20
)

// Option configures the client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// WithSleep replaces the sleeper used between CA polls.
func WithSleep(sleep certsd.SleepFunc) Option {
	return func(cl *Client) { cl.sleep = sleep }
}

// Client opens ACME directories. Its Open method is a certsd.DirectoryFactory.
type Client struct {
	httpClient *http.Client
	userAgent  string
	sleep      certsd.SleepFunc
	logger     *slog.Logger
}

func New(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		panic("acmeclient.New: received nil logger")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  defaultUserAgent,
		sleep:      certsd.Sleep,
		logger:     logger.With("component", "acme"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open fetches the directory document at url and returns a handle for account operations.
func (c *Client) Open(ctx context.Context, url string) (certsd.Directory, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("acme: directory request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acme: get directory %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("acme: get directory %s: unexpected status %d", url, resp.StatusCode)
	}
	var dir acme.Directory
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("acme: decode directory %s: %w", url, err)
	}
	if dir.NewAccountURL == "" || dir.NewOrderURL == "" {
		return nil, fmt.Errorf("acme: directory %s is missing account or order endpoints", url)
	}
	c.logger.Debug("directory resolved", "url", url)
	return &directory{client: c, url: url}, nil
}

type directory struct {
	client *Client
	url    string
}

func (d *directory) core(key crypto.Signer) (*api.Core, error) {
	core, err := api.New(d.client.httpClient, d.client.userAgent, d.url, "", key)
	if err != nil {
		return nil, fmt.Errorf("acme: create client for %s: %w", d.url, err)
	}
	return core, nil
}

func (d *directory) RegisterAccount(ctx context.Context, key crypto.Signer, contacts []string) (certsd.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	core, err := d.core(key)
	if err != nil {
		return nil, err
	}
	acc, err := core.Accounts.New(acme.Account{
		Contact:              contacts,
		TermsOfServiceAgreed: true,
	})
	if err != nil {
		return nil, fmt.Errorf("acme: register account: %w", err)
	}
	d.client.logger.Info("account registered", "account_url", acc.Location, "contacts", contacts)
	return &account{client: d.client, core: core}, nil
}

func (d *directory) LoadAccount(ctx context.Context, key crypto.Signer, contacts []string) (certsd.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	core, err := d.core(key)
	if err != nil {
		return nil, err
	}
	user := &accountUser{contacts: contacts, key: key}
	reg, err := registration.NewRegistrar(core, user).ResolveAccountByKey()
	if err != nil {
		return nil, fmt.Errorf("acme: resolve account by key: %w", err)
	}
	user.registration = reg
	d.client.logger.Info("account loaded", "account_url", reg.URI)
	return &account{client: d.client, core: core}, nil
}

// accountUser implements lego's registration.User.
type accountUser struct {
	contacts     []string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *accountUser) GetEmail() string {
	if len(u.contacts) == 0 {
		return ""
	}
	return u.contacts[0]
}
func (u *accountUser) GetRegistration() *registration.Resource { return u.registration }
func (u *accountUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

type account struct {
	client *Client
	core   *api.Core
}

func (a *account) NewOrder(ctx context.Context, name string, altNames []string) (certsd.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	domains := append([]string{name}, altNames...)
	ext, err := a.core.Orders.New(domains)
	if err != nil {
		return nil, fmt.Errorf("acme: new order for %v: %w", domains, err)
	}
	a.client.logger.Info("order created", "identifier", name, "order_url", ext.Location, "status", ext.Status)
	return &order{client: a.client, core: a.core, location: ext.Location, current: ext.Order}, nil
}

// ProblemType returns the ACME problem type carried by err, or "".
func ProblemType(err error) string {
	var problem *acme.ProblemDetails
	if errors.As(err, &problem) {
		return problem.Type
	}
	return ""
}
