package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
)

func TestIssueAndVerify(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := Issuer{Secret: secret, Issuer: "order-platform"}.Issue("orchestrator", "service", ServiceScopes, 5*time.Minute)
	require.NoError(t, err)

	caller, err := Verifier{Secret: secret, Issuer: "order-platform"}.Verify(BearerHeader(tok))
	require.NoError(t, err)
	assert.Equal(t, "orchestrator", caller.Subject)
	assert.Equal(t, "service", caller.Role)
	assert.True(t, caller.Has(ScopeOrdersWrite))
	assert.NoError(t, caller.Require(ScopeOrdersWrite))
	assert.True(t, apperr.Is(caller.Require(ScopeProductsWrite), apperr.KindForbidden))
}

func TestVerifyRejects(t *testing.T) {
	secret := []byte("s3cret")
	v := Verifier{Secret: secret, Issuer: "order-platform"}

	_, err := v.Verify("")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = v.Verify("Basic abc")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	other, err := Issuer{Secret: []byte("other"), Issuer: "order-platform"}.Issue("x", "admin", AdminScopes, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(BearerHeader(other))
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	past := func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := Issuer{Secret: secret, Issuer: "order-platform", Now: past}.Issue("x", "admin", AdminScopes, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(BearerHeader(expired))
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	wrongIss, err := Issuer{Secret: secret, Issuer: "someone-else"}.Issue("x", "admin", AdminScopes, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(BearerHeader(wrongIss))
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestAnonymousCallerIsUnauthorized(t *testing.T) {
	assert.True(t, apperr.Is(Caller{}.Require(ScopeOrdersRead), apperr.KindUnauthorized))
}

func TestCheckServiceToken(t *testing.T) {
	assert.NoError(t, CheckServiceToken("Bearer abc", "abc"))
	assert.True(t, apperr.Is(CheckServiceToken("", "abc"), apperr.KindUnauthorized))
	assert.True(t, apperr.Is(CheckServiceToken("Bearer nope", "abc"), apperr.KindForbidden))
	assert.True(t, apperr.Is(CheckServiceToken("Bearer abc", ""), apperr.KindForbidden))
}
