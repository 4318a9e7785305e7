package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.Issue("user-42", map[string]interface{}{"role": "editor"})
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims["sub"])
	assert.Equal(t, "editor", claims["role"])
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewService("secret-a", time.Hour).Issue("user-42", nil)
	require.NoError(t, err)

	_, err = NewService("secret-b", time.Hour).Verify(token)
	assert.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	token, err := NewService("test-secret", -time.Minute).Issue("user-42", nil)
	require.NoError(t, err)

	_, err = NewService("test-secret", time.Hour).Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	// A token signed with none must not pass an HS256 verifier.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-42"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewService("test-secret", time.Hour).Verify(token)
	assert.Error(t, err)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := NewService("test-secret", time.Hour).Verify("not.a.token")
	assert.Error(t, err)
}
