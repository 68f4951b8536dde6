package certsd

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OrderState is the position of an order in the validation flow.
type OrderState int

const (
	StateCreated OrderState = iota
	StateAwaitingAuthorization
	StateChallengePending
	StateChallengeSubmitted
	StateValidated
	StateCsrReady
	StateFailed
)

var orderStateNames = [...]string{
	StateCreated:               "created",
	StateAwaitingAuthorization: "awaiting_authorization",
	StateChallengePending:      "challenge_pending",
	StateChallengeSubmitted:    "challenge_submitted",
	StateValidated:             "validated",
	StateCsrReady:              "csr_ready",
	StateFailed:                "failed",
}

func (s OrderState) String() string {
	if int(s) < len(orderStateNames) {
		return orderStateNames[s]
	}
	return fmt.Sprintf("order_state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s OrderState) Terminal() bool {
	return s == StateCsrReady || s == StateFailed
}

// PropagationChecker waits until a TXT record is visible to resolvers.
type PropagationChecker interface {
	Wait(ctx context.Context, fqdn, value string) error
}

// OrderMachine drives one ACME order from creation until it is ready for its CSR.
type OrderMachine struct {
	challenges  *ChallengeCoordinator
	propagation PropagationChecker
	settings    Settings
	sleep       SleepFunc
	logger      *slog.Logger

	state OrderState
	trail []OrderState
}

func NewOrderMachine(challenges *ChallengeCoordinator, settings Settings, sleep SleepFunc, logger *slog.Logger) *OrderMachine {
	if challenges == nil || logger == nil {
		panic("NewOrderMachine: received nil challenge coordinator or logger")
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &OrderMachine{
		challenges: challenges,
		settings:   settings,
		sleep:      sleep,
		logger:     logger.With("component", "order"),
	}
}

// WithPropagationChecker makes the machine wait for the TXT record before asking for validation.
func (m *OrderMachine) WithPropagationChecker(p PropagationChecker) *OrderMachine {
	m.propagation = p
	return m
}

// State is the current state; after Run returns it is terminal.
func (m *OrderMachine) State() OrderState { return m.state }

// Trail lists every state entered during the last Run, in order.
func (m *OrderMachine) Trail() []OrderState { return append([]OrderState(nil), m.trail...) }

func (m *OrderMachine) enter(s OrderState) {
	m.state = s
	m.trail = append(m.trail, s)
}

func (m *OrderMachine) fail(span trace.Span, err error) (FinalizableOrder, error) {
	m.enter(StateFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

// Run polls order until its validations are confirmed, the attempt budget is spent,
// or its authorization turns invalid. domain is the apex name used for DNS records.
func (m *OrderMachine) Run(ctx context.Context, domain string, order Order) (FinalizableOrder, error) {
	ctx, span := tracer.Start(ctx, "order.await", trace.WithAttributes(attribute.String("domain", domain)))
	defer span.End()

	m.trail = nil
	m.enter(StateCreated)
	logger := m.logger.With("domain", domain)

	var status AuthzStatus
	for attempt := 1; ; attempt++ {
		span.SetAttributes(attribute.Int("attempt", attempt))

		ready, ok, err := order.ConfirmValidations(ctx)
		if err != nil {
			return m.fail(span, fmt.Errorf("order: confirm validations: %w", err))
		}
		if ok {
			logger.Info("order confirmed", "attempt", attempt)
			m.enter(StateCsrReady)
			return ready, nil
		}

		if attempt > m.settings.MaxOrderAttempts {
			return m.fail(span, fmt.Errorf("%w (%d)", ErrOrderAttemptsExhausted, m.settings.MaxOrderAttempts))
		}

		if status == AuthzPending {
			m.enter(StateAwaitingAuthorization)
			logger.Info("awaiting authorization", "attempt", attempt, "status", status)
			if err := m.sleep(ctx, m.settings.PollInterval); err != nil {
				return m.fail(span, err)
			}
			if err := order.Refresh(ctx); err != nil {
				return m.fail(span, fmt.Errorf("order: refresh: %w", err))
			}
			continue
		}

		auths, err := order.Authorizations(ctx)
		if err != nil {
			return m.fail(span, fmt.Errorf("order: authorizations: %w", err))
		}
		if len(auths) == 0 {
			return m.fail(span, ErrNoAuthorizations)
		}
		// DNS-01 orders for a single name carry exactly one authorization.
		auth := auths[0]

		if auth.NeedsChallenge() {
			if err := m.solve(ctx, logger, domain, order, auth); err != nil {
				return m.fail(span, err)
			}
		} else {
			logger.Info("challenge not required", "attempt", attempt)
			if err := order.Refresh(ctx); err != nil {
				return m.fail(span, fmt.Errorf("order: refresh: %w", err))
			}
		}

		status, err = auth.Status(ctx)
		if err != nil {
			return m.fail(span, fmt.Errorf("order: authorization status: %w", err))
		}
		logger.Info("authorization status", "attempt", attempt, "status", status)

		switch status {
		case AuthzInvalid:
			return m.fail(span, fmt.Errorf("%w for %s", ErrAuthorizationInvalid, auth.Domain()))
		case AuthzValid:
			m.enter(StateValidated)
		}
	}
}

// solve publishes the proof, requests validation and always removes the TXT record afterwards.
func (m *OrderMachine) solve(ctx context.Context, logger *slog.Logger, domain string, order Order, auth Authorization) error {
	ctx, span := tracer.Start(ctx, "challenge.solve", trace.WithAttributes(attribute.String("domain", domain)))
	defer span.End()

	challenge, ok := auth.DNSChallenge()
	if !ok {
		return fmt.Errorf("%w for %s", ErrNoDNSChallenge, auth.Domain())
	}
	m.enter(StateChallengePending)

	logger.Debug("deleting previous challenge records")
	m.challenges.DeleteAll(ctx, domain)

	proof, err := challenge.Proof()
	if err != nil {
		return fmt.Errorf("order: challenge proof: %w", err)
	}

	defer func() {
		// Runs on every path once a record may exist, even when ctx is cancelled.
		m.challenges.DeleteAll(context.WithoutCancel(ctx), domain)
	}()

	if err := m.challenges.Create(ctx, domain, proof); err != nil {
		logger.Error("failed to create challenge record", "error", err)
	} else if m.propagation != nil {
		if err := m.propagation.Wait(ctx, ChallengeRecordName(domain), proof); err != nil {
			logger.Warn("challenge record not yet visible, validating anyway", "error", err)
		}
	}

	if err := order.Refresh(ctx); err != nil {
		return fmt.Errorf("order: refresh: %w", err)
	}

	m.enter(StateChallengeSubmitted)
	if err := challenge.Validate(ctx, m.settings.ValidationPause); err != nil {
		logger.Debug("challenge validation failed", "error", err)
	} else {
		logger.Info("challenge validated")
	}

	if err := order.Refresh(ctx); err != nil {
		return fmt.Errorf("order: refresh: %w", err)
	}
	return nil
}
