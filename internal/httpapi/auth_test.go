package httpapi

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuedTokenRoundTrips(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456")

	token, expiresAt, err := manager.IssueToken("ana", RoleCashier)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	actor, err := manager.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ana", actor.Username)
	assert.Equal(t, RoleCashier, actor.Role)
}

func TestParseTokenRejectsForeignSecretAndUnknownRole(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456")
	other := NewAuthManager("another-secret", time.Hour, "123456")

	token, _, err := other.IssueToken("ana", RoleAdmin)
	require.NoError(t, err)
	_, err = manager.ParseToken(token)
	assert.Error(t, err)

	forged, err := manager.sign("ana", "owner", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = manager.ParseToken(forged)
	assert.Error(t, err)

	_, _, err = manager.IssueToken("ana", "owner")
	assert.Error(t, err)
}

func TestParseTokenRejectsExpiredAndNoneAlgorithm(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456")

	expired, err := manager.sign("ana", RoleAdmin, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = manager.ParseToken(expired)
	assert.Error(t, err)

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, operatorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "ana", Issuer: tokenIssuer},
		Role:             RoleAdmin,
	})
	raw, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = manager.ParseToken(raw)
	assert.Error(t, err)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321")

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestEmptyManagerPINDisablesApprovals(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "")
	assert.False(t, manager.ValidateManagerPIN(""))
	assert.False(t, manager.ValidateManagerPIN("disabled"), "the placeholder must never validate as a PIN")
}
