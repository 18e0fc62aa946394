package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/anyllm/gateway/internal/shared/config"
)

const refreshTokenBytes = 48

var (
	// ErrNoSigningSecret is returned when neither a JWT secret nor a
	// master key is configured to sign access tokens with.
	ErrNoSigningSecret = errors.New("no signing secret available: set JWT_SECRET or MASTER_KEY")

	// ErrExpiredCredential is returned when an access token failed
	// verification solely because its expiry has passed.
	ErrExpiredCredential = errors.New("access token expired")

	// ErrInvalidCredential is returned when a presented credential fails
	// verification or lookup for any other reason.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnauthenticated is returned when no usable credential was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Claims is the access token claim set: exactly {sub, jti, iat, exp}.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID returns the subject the token was issued to.
func (c *Claims) UserID() string { return c.Subject }

// TokenID returns the unique per-issuance jti claim.
func (c *Claims) TokenID() string { return c.ID }

// HashToken returns the sha256 hex digest of a token. Collaborators
// persist only the digest, never the token itself.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateRefreshToken returns a fresh URL-safe random token with 384
// bits of entropy.
func GenerateRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenService signs and verifies short-lived access tokens. It holds
// no state beyond the configuration it resolves its secret from.
type TokenService struct {
	cfg *config.Config
}

func NewTokenService(cfg *config.Config) *TokenService {
	return &TokenService{cfg: cfg}
}

// signingSecret resolves the HMAC secret: an explicit JWT secret wins,
// otherwise the master key doubles as the signing secret.
func (s *TokenService) signingSecret() ([]byte, error) {
	if s.cfg.JWTSecret != "" {
		return []byte(s.cfg.JWTSecret), nil
	}
	if s.cfg.MasterKey != "" {
		return []byte(s.cfg.MasterKey), nil
	}
	return nil, ErrNoSigningSecret
}

// SignAccessToken issues a signed access token for userID with the
// given jti. A zero lifetime uses the configured default.
func (s *TokenService) SignAccessToken(userID, jti string, lifetime time.Duration) (string, error) {
	secret, err := s.signingSecret()
	if err != nil {
		return "", err
	}

	if lifetime <= 0 {
		lifetime = time.Duration(s.cfg.AccessTokenExpMinutes) * time.Minute
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyAccessToken verifies the signature and expiry of an access
// token. Expiry is reported as ErrExpiredCredential so clients can
// decide whether to refresh; every other failure is ErrInvalidCredential.
func (s *TokenService) VerifyAccessToken(token string) (*Claims, error) {
	secret, err := s.signingSecret()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, ErrInvalidCredential
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidCredential
	}

	return claims, nil
}
