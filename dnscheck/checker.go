// Package dnscheck waits for a TXT record to become visible on a set of resolvers.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/caasmo/certsd"
	"github.com/miekg/dns"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultPolls    = 12

	dnsTimeout = 10 * time.Second
)

// ErrNotPropagated is returned when the record is still missing after every poll.
var ErrNotPropagated = errors.New("TXT record not propagated")

// Checker implements certsd.PropagationChecker with direct DNS queries.
type Checker struct {
	nameservers []string
	interval    time.Duration
	polls       int
	sleep       certsd.SleepFunc
	logger      *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

func WithInterval(d time.Duration) Option { return func(c *Checker) { c.interval = d } }
func WithPolls(n int) Option              { return func(c *Checker) { c.polls = n } }
func WithSleep(s certsd.SleepFunc) Option { return func(c *Checker) { c.sleep = s } }

// New creates a checker querying nameservers. A server without a port uses 53.
func New(nameservers []string, logger *slog.Logger, opts ...Option) *Checker {
	if logger == nil {
		panic("dnscheck.New: received nil logger")
	}
	c := &Checker{
		interval: DefaultInterval,
		polls:    DefaultPolls,
		sleep:    certsd.Sleep,
		logger:   logger.With("component", "dnscheck"),
	}
	for _, ns := range nameservers {
		if _, _, err := net.SplitHostPort(ns); err != nil {
			ns = net.JoinHostPort(ns, "53")
		}
		c.nameservers = append(c.nameservers, ns)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.polls < 1 {
		c.polls = 1
	}
	return c
}

// Wait polls until every nameserver answers fqdn with a TXT record equal to value.
func (c *Checker) Wait(ctx context.Context, fqdn, value string) error {
	if len(c.nameservers) == 0 {
		return nil
	}
	fqdn = dns.Fqdn(fqdn)
	for poll := 1; ; poll++ {
		ok, err := c.propagated(ctx, fqdn, value)
		if err != nil {
			c.logger.Debug("propagation check failed", "fqdn", fqdn, "poll", poll, "error", err)
		}
		if ok {
			c.logger.Info("TXT record visible", "fqdn", fqdn, "poll", poll)
			return nil
		}
		if poll >= c.polls {
			return fmt.Errorf("%w: %s after %d polls", ErrNotPropagated, fqdn, poll)
		}
		if err := c.sleep(ctx, c.interval); err != nil {
			return err
		}
	}
}

func (c *Checker) propagated(ctx context.Context, fqdn, value string) (bool, error) {
	for _, ns := range c.nameservers {
		r, err := Query(ctx, fqdn, dns.TypeTXT, ns)
		if err != nil {
			return false, err
		}

		// NXDOMAIN just means the record has not arrived yet
		if r.Rcode != dns.RcodeSuccess && r.Rcode != dns.RcodeNameError {
			return false, fmt.Errorf("NS %s returned %s for %s", ns, dns.RcodeToString[r.Rcode], fqdn)
		}
		if !hasTXT(r, value) {
			return false, nil
		}
	}
	return true, nil
}

func hasTXT(r *dns.Msg, value string) bool {
	for _, rr := range r.Answer {
		if txt, ok := rr.(*dns.TXT); ok && strings.Join(txt.Txt, "") == value {
			return true
		}
	}
	return false
}

// Query sends a recursive query to ns over UDP and retries over TCP when the answer
// is truncated.
func Query(ctx context.Context, fqdn string, rtype uint16, ns string) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), rtype)
	m.SetEdns0(4096, false)

	udp := &dns.Client{Net: "udp", Timeout: dnsTimeout}
	in, _, err := udp.ExchangeContext(ctx, m, ns)
	if in != nil && in.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: dnsTimeout}
		in, _, err = tcp.ExchangeContext(ctx, m, ns)
	}
	if err != nil {
		return nil, fmt.Errorf("dns query %s to %s: %w", fqdn, ns, err)
	}
	return in, nil
}
