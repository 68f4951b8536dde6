package certsd

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSleeper returns immediately and remembers every requested wait.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// fakeDNS is an in-memory zone.
type fakeDNS struct {
	mu        sync.Mutex
	records   []DNSRecord
	nextID    int
	ops       []string
	ttls      []int
	listErr   error
	createErr error
	deleteErr map[string]error
}

func (f *fakeDNS) seed(name, content string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("rec-%d", f.nextID)
	f.records = append(f.records, DNSRecord{ID: id, Name: name, Content: content})
	return id
}

func (f *fakeDNS) ListTXTRecords(ctx context.Context) ([]DNSRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]DNSRecord(nil), f.records...), nil
}

func (f *fakeDNS) CreateTXTRecord(ctx context.Context, rec DNSRecord, ttl int) (DNSRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "create:"+rec.Name)
	f.ttls = append(f.ttls, ttl)
	if f.createErr != nil {
		return DNSRecord{}, f.createErr
	}
	f.nextID++
	rec.ID = fmt.Sprintf("rec-%d", f.nextID)
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeDNS) DeleteRecord(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "delete:"+id)
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	for i, rec := range f.records {
		if rec.ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("record %s not found", id)
}

// challengeRecords counts the _acme-challenge records of domain.
func (f *fakeDNS) challengeRecords(domain string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.records {
		if strings.Contains(rec.Name, "_acme-challenge") && strings.Contains(rec.Name, domain) {
			n++
		}
	}
	return n
}

func (f *fakeDNS) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

var errTransient = errors.New("urn:ietf:params:acme:error:serverInternal: try again")

// fakeCA scripts the behavior of the ACME server behind the capability interfaces.
type fakeCA struct {
	t   *testing.T
	dns *fakeDNS

	// authzStatus is what Authorization.Status reports; afterValidate replaces it on Validate.
	authzStatus      AuthzStatus
	afterValidate    AuthzStatus
	pendingRefreshes int
	skipChallenge    bool
	noDNSChallenge   bool
	directoryErr     error
	orderErrs        int
	failNames        map[string]bool
	notAfter         time.Time

	registered        int
	loaded            int
	orderNames        []string
	refreshes         int
	validateCalls     int
	recordsAtValidate int
	finalizedKey      crypto.Signer
}

func newFakeCA(t *testing.T, dns *fakeDNS) *fakeCA {
	return &fakeCA{
		t:             t,
		dns:           dns,
		authzStatus:   AuthzPending,
		afterValidate: AuthzValid,
		notAfter:      time.Now().AddDate(0, 3, 0),
	}
}

func (ca *fakeCA) Open(ctx context.Context, url string) (Directory, error) {
	if ca.directoryErr != nil {
		return nil, ca.directoryErr
	}
	return ca, nil
}

func (ca *fakeCA) RegisterAccount(ctx context.Context, key crypto.Signer, contacts []string) (Account, error) {
	ca.registered++
	return ca, nil
}

func (ca *fakeCA) LoadAccount(ctx context.Context, key crypto.Signer, contacts []string) (Account, error) {
	ca.loaded++
	return ca, nil
}

func (ca *fakeCA) NewOrder(ctx context.Context, name string, altNames []string) (Order, error) {
	ca.orderNames = append(ca.orderNames, name)
	if ca.failNames[name] {
		return nil, errTransient
	}
	if ca.orderErrs > 0 {
		ca.orderErrs--
		return nil, errTransient
	}
	if !ca.skipChallenge {
		ca.authzStatus = AuthzPending
	}
	return &fakeOrder{ca: ca, name: name}, nil
}

type fakeOrder struct {
	ca        *fakeCA
	name      string
	ready     bool
	submitted bool
}

func (o *fakeOrder) Refresh(ctx context.Context) error {
	ca := o.ca
	ca.refreshes++
	if o.submitted && ca.authzStatus == AuthzPending && ca.pendingRefreshes > 0 {
		ca.pendingRefreshes--
		if ca.pendingRefreshes == 0 {
			ca.authzStatus = AuthzValid
		}
	}
	o.ready = ca.authzStatus == AuthzValid
	return nil
}

func (o *fakeOrder) ConfirmValidations(ctx context.Context) (FinalizableOrder, bool, error) {
	if !o.ready {
		return nil, false, nil
	}
	return o, true, nil
}

func (o *fakeOrder) Authorizations(ctx context.Context) ([]Authorization, error) {
	return []Authorization{&fakeAuthz{ca: o.ca, order: o}}, nil
}

func (o *fakeOrder) Finalize(ctx context.Context, key crypto.Signer, poll time.Duration) (CertOrder, error) {
	o.ca.finalizedKey = key
	return o, nil
}

func (o *fakeOrder) DownloadCertificate(ctx context.Context) ([]byte, error) {
	return selfSignedChain(o.ca.t, o.ca.finalizedKey, o.name, o.ca.notAfter), nil
}

type fakeAuthz struct {
	ca    *fakeCA
	order *fakeOrder
}

func (a *fakeAuthz) Domain() string { return a.order.name }

func (a *fakeAuthz) NeedsChallenge() bool {
	return !a.ca.skipChallenge && a.ca.authzStatus == AuthzPending && !a.order.submitted
}

func (a *fakeAuthz) DNSChallenge() (Challenge, bool) {
	if a.ca.noDNSChallenge {
		return nil, false
	}
	return &fakeChallenge{ca: a.ca, order: a.order}, true
}

func (a *fakeAuthz) Status(ctx context.Context) (AuthzStatus, error) {
	return a.ca.authzStatus, nil
}

type fakeChallenge struct {
	ca    *fakeCA
	order *fakeOrder
}

func (c *fakeChallenge) Proof() (string, error) { return "proof-value", nil }

func (c *fakeChallenge) Validate(ctx context.Context, pause time.Duration) error {
	c.ca.validateCalls++
	c.order.submitted = true
	if c.ca.dns != nil {
		c.ca.recordsAtValidate = c.ca.dns.challengeRecords(strings.TrimPrefix(c.order.name, "*."))
	}
	c.ca.authzStatus = c.ca.afterValidate
	if c.ca.afterValidate == AuthzInvalid {
		return errors.New("challenge rejected")
	}
	return nil
}

// recordingNotifier remembers delivered messages and fails the first failures calls.
type recordingNotifier struct {
	name     string
	mu       sync.Mutex
	calls    int
	failures int
	messages []Message
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Notify(ctx context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.failures < 0 || n.calls <= n.failures {
		return errors.New("channel unavailable")
	}
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages...)
}

func (n *recordingNotifier) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// recordingHistory is an in-memory Writer.
type recordingHistory struct {
	certs []Cert
	err   error
}

func (h *recordingHistory) AddCert(ctx context.Context, cert Cert) error {
	if h.err != nil {
		return h.err
	}
	h.certs = append(h.certs, cert)
	return nil
}

func newSigner(t *testing.T, keyType certcrypto.KeyType) crypto.Signer {
	t.Helper()
	pk, err := certcrypto.GeneratePrivateKey(keyType)
	require.NoError(t, err)
	signer, ok := pk.(crypto.Signer)
	require.True(t, ok)
	return signer
}

// selfSignedChain returns a PEM certificate for key valid until notAfter.
func selfSignedChain(t *testing.T, key crypto.Signer, name string, notAfter time.Time) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     []string{name},
		NotBefore:    notAfter.AddDate(0, -3, 0),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
