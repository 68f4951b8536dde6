package certsd

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const chainPerm = 0o644

// DNSProviderFactory builds the DNS client for the zone of a configured domain.
type DNSProviderFactory func(account DomainAccount) (DNSProvider, error)

// Outcome summarizes one Renew invocation.
type Outcome struct {
	RunID     string
	Domain    string
	Variant   Variant
	Renewed   bool
	Attempts  int
	ExpiresAt time.Time
	Chain     string
	Archive   string
}

// Renewer runs the renewal workflow of a domain variant: account setup, expiry gate,
// order, finalize, archive and write of the chain, history and notification.
type Renewer struct {
	cfg          *Config
	settings     Settings
	keys         *KeyStore
	gate         *ExpiryGate
	directory    DirectoryFactory
	dnsProviders DNSProviderFactory
	dispatcher   *Dispatcher
	propagation  PropagationChecker
	history      Writer
	metrics      *Metrics
	now          func() time.Time
	sleep        SleepFunc
	logger       *slog.Logger
}

type RenewerOption func(*Renewer)

// WithClock replaces time.Now for the expiry gate and archive names.
func WithClock(now func() time.Time) RenewerOption {
	return func(r *Renewer) { r.now = now }
}

// WithSleep replaces the sleeper used for polls and cooldowns.
func WithSleep(sleep SleepFunc) RenewerOption {
	return func(r *Renewer) { r.sleep = sleep }
}

func WithDispatcher(d *Dispatcher) RenewerOption {
	return func(r *Renewer) { r.dispatcher = d }
}

func WithHistory(w Writer) RenewerOption {
	return func(r *Renewer) { r.history = w }
}

func WithMetrics(m *Metrics) RenewerOption {
	return func(r *Renewer) { r.metrics = m }
}

func WithPropagation(p PropagationChecker) RenewerOption {
	return func(r *Renewer) { r.propagation = p }
}

func NewRenewer(cfg *Config, settings Settings, directory DirectoryFactory, dnsProviders DNSProviderFactory, logger *slog.Logger, opts ...RenewerOption) *Renewer {
	if cfg == nil || directory == nil || dnsProviders == nil || logger == nil {
		panic("NewRenewer: received nil config, directory, dns provider factory or logger")
	}
	r := &Renewer{
		cfg:          cfg,
		settings:     settings,
		directory:    directory,
		dnsProviders: dnsProviders,
		now:          time.Now,
		sleep:        Sleep,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	if r.dispatcher == nil {
		r.dispatcher = NewDispatcher(nil, settings, r.sleep, r.metrics, logger)
	}
	r.keys = NewKeyStore(cfg.DataDir, logger)
	r.gate = NewExpiryGate(settings.RenewBeforeMonths, r.now, logger.With("component", "expiry"))
	return r
}

// RenewAll renews every configured domain. See RenewDomains.
func (r *Renewer) RenewAll(ctx context.Context) ([]Outcome, error) {
	return r.RenewDomains(ctx, r.cfg.Domains())
}

// RenewDomains renews domains one at a time, wildcard first then apex. Both variants of
// a domain are always attempted; a failure stops the run before the next domain.
func (r *Renewer) RenewDomains(ctx context.Context, domains []string) ([]Outcome, error) {
	var outcomes []Outcome
	for _, domain := range domains {
		var errs []error
		for _, v := range []Variant{WildcardCert, Apex} {
			out, err := r.Renew(ctx, domain, v)
			outcomes = append(outcomes, out)
			if err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// Renew renews one variant of domain if its certificate is missing or close to expiry.
// Failures are reported to the notification channels before being returned.
func (r *Renewer) Renew(ctx context.Context, domain string, v Variant) (Outcome, error) {
	out := Outcome{RunID: uuid.NewString(), Domain: domain, Variant: v}
	logger := r.logger.With("domain", domain, "variant", v.String(), "run_id", out.RunID)

	ctx, span := tracer.Start(ctx, "renew", trace.WithAttributes(
		attribute.String("domain", domain),
		attribute.String("variant", v.String()),
		attribute.String("run_id", out.RunID),
	))
	defer span.End()

	out, err := r.renew(ctx, logger, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.Renewals.WithLabelValues(domain, v.String(), ResultFailed).Inc()
		logger.Error("renewal failed", "attempts", out.Attempts, "error", err)
		r.dispatcher.Dispatch(ctx, Message{
			Domain:  domain,
			Variant: v,
			Success: false,
			Text:    err.Error(),
			Time:    r.now(),
		})
		return out, err
	}
	span.SetAttributes(attribute.Bool("renewed", out.Renewed))
	return out, nil
}

func (r *Renewer) renew(ctx context.Context, logger *slog.Logger, out Outcome) (Outcome, error) {
	domain, v := out.Domain, out.Variant
	account, err := r.cfg.Account(domain)
	if err != nil {
		return out, err
	}
	provider, err := r.dnsProviders(account)
	if err != nil {
		return out, fmt.Errorf("renew: dns provider for %s: %w", domain, err)
	}
	challenges := NewChallengeCoordinator(provider, r.settings.ChallengeTTL, logger)
	paths := PathsFor(r.cfg.DataDir, domain, v)
	out.Chain = paths.Chain

	var (
		ready     FinalizableOrder
		domainKey crypto.Signer
		skipped   bool
	)
	retrier := &Retrier{
		Delay:    r.settings.RetryCooldown,
		MaxTries: r.settings.MaxRenewalAttempts,
		Sleep:    r.sleep,
		Logger:   logger,
	}
	err = retrier.Do(ctx, "renew "+v.OrderName(domain), func(ctx context.Context, attempt int) error {
		out.Attempts = attempt
		if attempt > 1 {
			r.metrics.RenewalRetries.WithLabelValues(domain, v.String()).Inc()
		}

		dir, err := r.directory(ctx, r.cfg.DirectoryURL())
		if err != nil {
			return fmt.Errorf("acme directory: %w", err)
		}
		acct, err := r.loadOrRegister(ctx, dir, r.cfg.ContactsOf(domain))
		if err != nil {
			return err
		}

		domainKey, err = r.keys.LoadOrGenerateDomainKey(paths)
		if err != nil {
			return Permanent(err)
		}

		decision, expiry, err := r.gate.Check(domainKey, paths.Chain)
		if err != nil {
			return Permanent(err)
		}
		if decision == RenewalNotNeeded {
			skipped = true
			out.ExpiresAt = expiry
			return nil
		}

		logger.Info("creating order", "attempt", attempt, "identifier", v.OrderName(domain))
		order, err := acct.NewOrder(ctx, v.OrderName(domain), nil)
		if err != nil {
			return fmt.Errorf("new order: %w", err)
		}
		machine := NewOrderMachine(challenges, r.settings, r.sleep, logger).WithPropagationChecker(r.propagation)
		ready, err = machine.Run(ctx, domain, order)
		return err
	})
	if err != nil {
		return out, err
	}

	if skipped {
		r.metrics.Renewals.WithLabelValues(domain, v.String(), ResultSkipped).Inc()
		r.metrics.Expiry.WithLabelValues(domain, v.String()).Set(float64(out.ExpiresAt.Unix()))
		logger.Info("renewal not needed", "expires_at", out.ExpiresAt)
		return out, nil
	}

	chain, expiry, err := r.issue(ctx, logger, ready, domainKey)
	if err != nil {
		return out, err
	}

	archive, err := archiveChain(paths, r.now())
	if err != nil {
		return out, err
	}
	if archive != "" {
		logger.Info("previous chain archived", "path", archive)
	}
	if err := writeFileAtomic(paths.Chain, chain, chainPerm); err != nil {
		return out, err
	}

	out.Renewed = true
	out.Archive = archive
	out.ExpiresAt = expiry
	logger.Info("certificate written", "path", paths.Chain, "expires_at", expiry, "attempts", out.Attempts)

	if r.history != nil {
		rec := Cert{
			Identifier:       v.OrderName(domain),
			Domain:           domain,
			Wildcard:         v.Wildcard,
			CertificateChain: string(chain),
			IssuedAt:         r.now().UTC(),
			ExpiresAt:        expiry.UTC(),
		}
		if err := r.history.AddCert(ctx, rec); err != nil {
			logger.Warn("failed to record certificate history", "error", err)
		}
	}

	r.metrics.Renewals.WithLabelValues(domain, v.String(), ResultRenewed).Inc()
	r.metrics.Expiry.WithLabelValues(domain, v.String()).Set(float64(expiry.Unix()))

	r.dispatcher.Dispatch(ctx, Message{
		Domain:  domain,
		Variant: v,
		Success: true,
		Text:    fmt.Sprintf("New certificate for %s expires %s", v.OrderName(domain), expiry.UTC().Format(time.RFC1123)),
		Time:    r.now(),
	})
	return out, nil
}

// loadOrRegister reuses the persisted account key, registering and saving a new one
// only when none exists.
func (r *Renewer) loadOrRegister(ctx context.Context, dir Directory, contacts []string) (Account, error) {
	key, found, err := r.keys.LoadAccountKey()
	if err != nil {
		return nil, Permanent(err)
	}
	if found {
		acct, err := dir.LoadAccount(ctx, key, contacts)
		if err != nil {
			return nil, fmt.Errorf("load account: %w", err)
		}
		return acct, nil
	}

	key, err = r.keys.NewAccountKey()
	if err != nil {
		return nil, Permanent(err)
	}
	acct, err := dir.RegisterAccount(ctx, key, contacts)
	if err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}
	if err := r.keys.SaveAccountKey(key); err != nil {
		return nil, Permanent(err)
	}
	return acct, nil
}

// issue finalizes the order and downloads a chain whose leaf must parse.
func (r *Renewer) issue(ctx context.Context, logger *slog.Logger, ready FinalizableOrder, key crypto.Signer) ([]byte, time.Time, error) {
	ctx, span := tracer.Start(ctx, "order.finalize")
	defer span.End()

	logger.Info("finalizing order")
	certOrder, err := ready.Finalize(ctx, key, r.settings.PollInterval)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("renew: finalize: %w", err)
	}
	chain, err := certOrder.DownloadCertificate(ctx)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("renew: download certificate: %w", err)
	}
	leaf, err := certcrypto.ParsePEMCertificate(chain)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: downloaded chain: %v", ErrCertificateParse, err)
	}
	return chain, leaf.NotAfter, nil
}

// archiveChain copies an existing chain to its date-suffixed name and returns that name,
// or "" when there was nothing to archive. A same-day archive is replaced.
func archiveChain(paths Paths, now time.Time) (string, error) {
	data, err := os.ReadFile(paths.Chain)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("renew: read %s: %w", paths.Chain, err)
	}
	archive := paths.ArchivePath(now)
	if err := writeFileAtomic(archive, data, chainPerm); err != nil {
		return "", err
	}
	return archive, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("renew: create temp for %s: %w", path, err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("renew: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("renew: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("renew: close %s: %w", name, err)
	}
	if err := os.Chmod(name, perm); err != nil {
		return fmt.Errorf("renew: chmod %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("renew: rename to %s: %w", path, err)
	}
	return nil
}
