package acmeclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caasmo/certsd"
	"github.com/go-acme/lego/v4/acme"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func directoryServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "certsd-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenDirectory(t *testing.T) {
	srv := directoryServer(t, http.StatusOK, `{
		"newNonce": "https://ca.test/nonce",
		"newAccount": "https://ca.test/account",
		"newOrder": "https://ca.test/order",
		"revokeCert": "https://ca.test/revoke",
		"keyChange": "https://ca.test/key-change"
	}`)
	c := New(discard(), WithHTTPClient(srv.Client()), WithUserAgent("certsd-test"))

	dir, err := c.Open(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.NotNil(t, dir)

	var factory certsd.DirectoryFactory = c.Open
	assert.NotNil(t, factory)
}

func TestOpenDirectoryErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"server error", http.StatusServiceUnavailable, `{}`, "unexpected status 503"},
		{"not json", http.StatusOK, `<html>`, "decode directory"},
		{"missing endpoints", http.StatusOK, `{"newNonce": "https://ca.test/nonce"}`, "missing account or order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := directoryServer(t, tt.status, tt.body)
			c := New(discard(), WithUserAgent("certsd-test"))
			_, err := c.Open(context.Background(), srv.URL)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestNewRequiresLogger(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}

func TestProblemType(t *testing.T) {
	problem := &acme.ProblemDetails{Type: "urn:ietf:params:acme:error:rateLimited", Detail: "too many"}
	assert.Equal(t, "urn:ietf:params:acme:error:rateLimited", ProblemType(fmt.Errorf("new order: %w", problem)))
	assert.Empty(t, ProblemType(fmt.Errorf("plain")))
}

func TestAccountUser(t *testing.T) {
	u := &accountUser{contacts: []string{"mailto:a@example.com", "mailto:b@example.com"}}
	assert.Equal(t, "mailto:a@example.com", u.GetEmail())
	assert.Nil(t, u.GetRegistration())
	assert.Empty(t, (&accountUser{}).GetEmail())
}

func TestDNSProof(t *testing.T) {
	// base64url(sha256("")) without padding
	assert.Equal(t, "47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU", dnsProof(""))
	assert.Len(t, dnsProof("token.thumbprint"), 43)
	assert.NotEqual(t, dnsProof("a"), dnsProof("b"))
}

func TestFindDNSChallenge(t *testing.T) {
	challenges := []acme.Challenge{
		{Type: "http-01", Token: "h"},
		{Type: "dns-01", Token: "d"},
		{Type: "tls-alpn-01", Token: "t"},
	}
	ch, ok := findDNSChallenge(challenges)
	require.True(t, ok)
	assert.Equal(t, "d", ch.Token)

	_, ok = findDNSChallenge(challenges[:1])
	assert.False(t, ok)
}

func TestAuthzStatus(t *testing.T) {
	assert.Equal(t, certsd.AuthzPending, authzStatus(acme.StatusPending))
	assert.Equal(t, certsd.AuthzValid, authzStatus(acme.StatusValid))
	assert.Equal(t, certsd.AuthzInvalid, authzStatus(acme.StatusInvalid))
	assert.Equal(t, certsd.AuthzUnknown, authzStatus(acme.StatusDeactivated))
}

func TestOrderReady(t *testing.T) {
	assert.True(t, orderReady(acme.StatusReady))
	assert.True(t, orderReady(acme.StatusValid))
	assert.False(t, orderReady(acme.StatusPending))
	assert.False(t, orderReady(acme.StatusProcessing))
}

func TestConfirmValidations(t *testing.T) {
	o := &order{current: acme.Order{Status: acme.StatusPending}}
	ready, ok, err := o.ConfirmValidations(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ready)

	o.current.Status = acme.StatusReady
	ready, ok, err = o.ConfirmValidations(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, ready)
}

func TestAuthorization(t *testing.T) {
	a := &authorization{authz: acme.Authorization{
		Status:     acme.StatusPending,
		Wildcard:   true,
		Identifier: acme.Identifier{Type: "dns", Value: "example.com"},
		Challenges: []acme.Challenge{{Type: "dns-01", Token: "tok", Status: acme.StatusPending}},
	}}
	assert.Equal(t, "*.example.com", a.Domain())
	assert.True(t, a.NeedsChallenge())

	ch, ok := a.DNSChallenge()
	require.True(t, ok)
	assert.Equal(t, "tok", ch.(*dnsChallenge).challenge.Token)

	a.authz.Status = acme.StatusValid
	a.authz.Wildcard = false
	assert.False(t, a.NeedsChallenge())
	assert.Equal(t, "example.com", a.Domain())

	a.authz.Challenges = nil
	_, ok = a.DNSChallenge()
	assert.False(t, ok)
}

func TestValidateSkipsValidChallenge(t *testing.T) {
	c := &dnsChallenge{challenge: acme.Challenge{Type: "dns-01", Status: acme.StatusValid}}
	assert.NoError(t, c.Validate(context.Background(), time.Second))
}

func TestProblemOrStatus(t *testing.T) {
	problem := &acme.ProblemDetails{Type: "urn:ietf:params:acme:error:dns", Detail: "no TXT record"}
	assert.ErrorIs(t, problemOrStatus(problem, acme.StatusInvalid), problem)
	assert.EqualError(t, problemOrStatus(nil, acme.StatusInvalid), "status invalid")
}
