package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyllm/gateway/internal/shared/config"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:             "test-jwt-secret",
		MasterKey:             "sk-master-test",
		AccessTokenExpMinutes: 60,
	}
}

func TestSignAndVerifyAccessToken(t *testing.T) {
	svc := NewTokenService(testConfig())

	token, err := svc.SignAccessToken("user-1", "jti-abc", 30*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "jti-abc", claims.TokenID())

	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	assert.Equal(t, 30*time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestSignAccessTokenDefaultLifetime(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTokenExpMinutes = 15
	svc := NewTokenService(cfg)

	token, err := svc.SignAccessToken("user-1", "jti-1", 0)
	require.NoError(t, err)

	claims, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestVerifyAccessTokenExpired(t *testing.T) {
	svc := NewTokenService(testConfig())

	token, err := svc.SignAccessToken("user-1", "jti-1", -time.Minute)
	require.NoError(t, err)

	claims, err := svc.VerifyAccessToken(token)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrExpiredCredential)
}

func TestVerifyAccessTokenTampered(t *testing.T) {
	svc := NewTokenService(testConfig())

	token, err := svc.SignAccessToken("user-1", "jti-1", time.Hour)
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	claims, err := svc.VerifyAccessToken(tampered)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyAccessTokenWrongSecret(t *testing.T) {
	svc := NewTokenService(testConfig())
	token, err := svc.SignAccessToken("user-1", "jti-1", time.Hour)
	require.NoError(t, err)

	other := NewTokenService(&config.Config{JWTSecret: "a-different-secret"})
	_, err = other.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyAccessTokenRejectsUnexpectedAlg(t *testing.T) {
	svc := NewTokenService(testConfig())

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestSigningSecretFallsBackToMasterKey(t *testing.T) {
	cfg := &config.Config{MasterKey: "sk-master-test", AccessTokenExpMinutes: 60}
	svc := NewTokenService(cfg)

	token, err := svc.SignAccessToken("user-1", "jti-1", time.Hour)
	require.NoError(t, err)

	claims, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
}

func TestSigningSecretMissing(t *testing.T) {
	svc := NewTokenService(&config.Config{})

	_, err := svc.SignAccessToken("user-1", "jti-1", time.Hour)
	assert.ErrorIs(t, err, ErrNoSigningSecret)

	_, err = svc.VerifyAccessToken("anything")
	assert.ErrorIs(t, err, ErrNoSigningSecret)
}

func TestHashToken(t *testing.T) {
	first := HashToken("sk-abc123")
	second := HashToken("sk-abc123")
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	assert.NotEqual(t, first, HashToken("sk-abc124"))
}

func TestGenerateRefreshToken(t *testing.T) {
	token, err := GenerateRefreshToken()
	require.NoError(t, err)

	// 48 bytes of entropy encode to 64 URL-safe characters, no padding.
	assert.Len(t, token, 64)
	assert.NotContains(t, token, "=")
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")

	other, err := GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}
