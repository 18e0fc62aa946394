package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyllm/gateway/internal/shared/models"
)

type fakeKeyStore struct {
	keys map[string]*models.APIKey
	err  error
}

func (f *fakeKeyStore) GetAPIKeyByHash(_ context.Context, digest string) (*models.APIKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.keys[digest], nil
}

func storeWithKey(cleartext string, key *models.APIKey) *fakeKeyStore {
	return &fakeKeyStore{keys: map[string]*models.APIKey{HashToken(cleartext): key}}
}

func newTestResolver(keys KeyStore) *Resolver {
	return NewResolver(NewTokenService(testConfig()), keys, "sk-master-test")
}

func TestResolveAccessToken(t *testing.T) {
	resolver := newTestResolver(&fakeKeyStore{})

	token, err := NewTokenService(testConfig()).SignAccessToken("user-7", "jti-1", time.Hour)
	require.NoError(t, err)

	id, err := resolver.Resolve(context.Background(), token, "")
	require.NoError(t, err)
	assert.Equal(t, SchemeToken, id.Scheme)
	assert.Equal(t, "user-7", id.UserID)
	assert.Nil(t, id.APIKey)
}

func TestResolveBadTokenDoesNotFallThrough(t *testing.T) {
	key := &models.APIKey{ID: "key-1", UserID: "user-2"}
	resolver := newTestResolver(storeWithKey("sk-live-abc", key))

	// A malformed token-shaped bearer must fail hard even though a
	// valid API key is also present.
	id, err := resolver.Resolve(context.Background(), "aaa.bbb.ccc", "sk-live-abc")
	assert.Nil(t, id)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestResolveExpiredToken(t *testing.T) {
	resolver := newTestResolver(&fakeKeyStore{})

	token, err := NewTokenService(testConfig()).SignAccessToken("user-7", "jti-1", -time.Minute)
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), token, "")
	assert.ErrorIs(t, err, ErrExpiredCredential)
}

func TestResolveAPIKey(t *testing.T) {
	key := &models.APIKey{ID: "key-1", UserID: "user-2"}
	resolver := newTestResolver(storeWithKey("sk-live-abc", key))

	id, err := resolver.Resolve(context.Background(), "", "sk-live-abc")
	require.NoError(t, err)
	assert.Equal(t, SchemeAPIKey, id.Scheme)
	assert.Equal(t, "user-2", id.UserID)
	assert.Same(t, key, id.APIKey)
}

func TestResolveUnknownAPIKey(t *testing.T) {
	resolver := newTestResolver(&fakeKeyStore{})

	id, err := resolver.Resolve(context.Background(), "", "sk-live-unknown")
	assert.Nil(t, id)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestResolveRevokedAPIKey(t *testing.T) {
	key := &models.APIKey{ID: "key-1", UserID: "user-2", Revoked: true}
	resolver := newTestResolver(storeWithKey("sk-live-abc", key))

	_, err := resolver.Resolve(context.Background(), "", "sk-live-abc")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestResolveKeyStoreError(t *testing.T) {
	boom := errors.New("db down")
	resolver := newTestResolver(&fakeKeyStore{err: boom})

	_, err := resolver.Resolve(context.Background(), "", "sk-live-abc")
	assert.ErrorIs(t, err, boom)
}

func TestResolveMasterKey(t *testing.T) {
	resolver := newTestResolver(&fakeKeyStore{})

	id, err := resolver.Resolve(context.Background(), "sk-master-test", "")
	require.NoError(t, err)
	assert.Equal(t, SchemeMaster, id.Scheme)
	assert.Empty(t, id.UserID)
}

func TestResolveWrongMasterKey(t *testing.T) {
	resolver := newTestResolver(&fakeKeyStore{})

	_, err := resolver.Resolve(context.Background(), "sk-master-wrong", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveMasterKeyDisabled(t *testing.T) {
	resolver := NewResolver(NewTokenService(testConfig()), &fakeKeyStore{}, "")

	_, err := resolver.Resolve(context.Background(), "sk-master-test", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveNoCredentials(t *testing.T) {
	resolver := newTestResolver(&fakeKeyStore{})

	_, err := resolver.Resolve(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestTargetUser(t *testing.T) {
	bound := &Identity{Scheme: SchemeToken, UserID: "user-1"}
	got, err := bound.TargetUser("someone-else")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got)

	master := &Identity{Scheme: SchemeMaster}
	got, err = master.TargetUser("user-9")
	require.NoError(t, err)
	assert.Equal(t, "user-9", got)

	_, err = master.TargetUser("")
	assert.ErrorIs(t, err, ErrMasterUserRequired)
}
