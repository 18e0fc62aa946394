package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/anyllm/gateway/internal/shared/models"
)

// Scheme identifies which credential scheme authenticated a request.
type Scheme int

const (
	// SchemeToken is holder-of-token authentication via a signed access token.
	SchemeToken Scheme = iota
	// SchemeAPIKey is a hash-looked-up gateway API key.
	SchemeAPIKey
	// SchemeMaster is the operator master key; it binds no user.
	SchemeMaster
)

// ErrMasterUserRequired is returned when a master-key caller did not
// name the user a request should act on.
var ErrMasterUserRequired = errors.New("'user' is required when using master key")

// Identity is the uniform resolution result every protected route
// consumes. Exactly one scheme holds; UserID is empty for SchemeMaster
// until the caller supplies a target explicitly.
type Identity struct {
	Scheme Scheme
	UserID string
	APIKey *models.APIKey
}

// TargetUser returns the user a request acts on. Token and API-key
// identities are bound to their own user; a master identity must name
// one explicitly.
func (id *Identity) TargetUser(explicit string) (string, error) {
	if id.Scheme == SchemeMaster {
		if explicit == "" {
			return "", ErrMasterUserRequired
		}
		return explicit, nil
	}
	return id.UserID, nil
}

// KeyStore looks up API keys by content hash. Cleartext keys are never
// compared or stored.
type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, digest string) (*models.APIKey, error)
}

// Resolver establishes caller identity from the credentials present on
// a request, trying signed access token, then API key, then master key.
type Resolver struct {
	tokens    *TokenService
	keys      KeyStore
	masterKey string
}

func NewResolver(tokens *TokenService, keys KeyStore, masterKey string) *Resolver {
	return &Resolver{tokens: tokens, keys: keys, masterKey: masterKey}
}

// looksLikeAccessToken reports whether a bearer value has the compact
// three-part header.payload.signature shape of a signed token.
func looksLikeAccessToken(value string) bool {
	return strings.Count(value, ".") == 2
}

// Resolve determines caller identity from the bearer value of the
// Authorization header and the X-API-Key header value, either of which
// may be empty.
//
// A bearer value shaped like a signed token is verified and never falls
// through: holder-of-token authentication is all or nothing. An API key
// is a lookup; a presented but unknown key is rejected. A bearer value
// that is not token-shaped is compared against the master key in
// constant time.
func (r *Resolver) Resolve(ctx context.Context, bearer, apiKey string) (*Identity, error) {
	if bearer != "" && looksLikeAccessToken(bearer) {
		claims, err := r.tokens.VerifyAccessToken(bearer)
		if err != nil {
			return nil, err
		}
		return &Identity{Scheme: SchemeToken, UserID: claims.UserID()}, nil
	}

	if apiKey != "" {
		record, err := r.keys.GetAPIKeyByHash(ctx, HashToken(apiKey))
		if err != nil {
			return nil, err
		}
		if record == nil || record.Revoked {
			return nil, ErrInvalidCredential
		}
		return &Identity{Scheme: SchemeAPIKey, UserID: record.UserID, APIKey: record}, nil
	}

	if bearer != "" && r.masterKey != "" &&
		subtle.ConstantTimeCompare([]byte(bearer), []byte(r.masterKey)) == 1 {
		return &Identity{Scheme: SchemeMaster}, nil
	}

	return nil, ErrUnauthenticated
}
