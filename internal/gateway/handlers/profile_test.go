package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyllm/gateway/internal/gateway/auth"
	"github.com/anyllm/gateway/internal/shared/database"
	"github.com/anyllm/gateway/internal/shared/models"
)

type fakeProfileStore struct {
	user        *models.User
	budget      *models.Budget
	window      database.UsageWindow
	logs        []models.UsageLog
	recentLimit int
}

func (f *fakeProfileStore) GetUser(context.Context, string) (*models.User, error) {
	return f.user, nil
}

func (f *fakeProfileStore) GetBudget(context.Context, string) (*models.Budget, error) {
	return f.budget, nil
}

func (f *fakeProfileStore) AggregateUsage(context.Context, string, time.Time) (*database.UsageWindow, error) {
	window := f.window
	return &window, nil
}

func (f *fakeProfileStore) RecentUsage(_ context.Context, _ string, limit int) ([]models.UsageLog, error) {
	f.recentLimit = limit
	if limit < len(f.logs) {
		return f.logs[:limit], nil
	}
	return f.logs, nil
}

func profileRequest(identity *auth.Identity, query string) *http.Request {
	req := httptest.NewRequest("GET", "/v1/profile"+query, nil)
	if identity != nil {
		ctx := context.WithValue(req.Context(), identityKey, identity)
		req = req.WithContext(ctx)
	}
	return req
}

func TestHandleGetProfileNoIdentity(t *testing.T) {
	h := NewProfileHandler(&fakeProfileStore{})
	rec := httptest.NewRecorder()
	h.HandleGetProfile(rec, profileRequest(nil, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleGetProfileMasterNeedsUser(t *testing.T) {
	h := NewProfileHandler(&fakeProfileStore{})
	rec := httptest.NewRecorder()
	h.HandleGetProfile(rec, profileRequest(&auth.Identity{Scheme: auth.SchemeMaster}, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetProfileUnknownUser(t *testing.T) {
	h := NewProfileHandler(&fakeProfileStore{})
	rec := httptest.NewRecorder()
	h.HandleGetProfile(rec, profileRequest(&auth.Identity{Scheme: auth.SchemeToken, UserID: "ghost"}, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetProfile(t *testing.T) {
	alias := "Alice"
	budgetID := "b-1"
	ceiling := 25.0
	errMsg := "rate limited"
	store := &fakeProfileStore{
		user: &models.User{
			UserID:   "user-1",
			Alias:    &alias,
			Spend:    3.5,
			BudgetID: &budgetID,
		},
		budget: &models.Budget{BudgetID: "b-1", MaxBudget: &ceiling},
		window: database.UsageWindow{Requests: 12, TotalTokens: 4800, Cost: 3.5},
		logs: []models.UsageLog{
			{ID: "log-1", Model: "gemini-2.5-flash", Provider: "google", Status: "success"},
			{ID: "log-2", Model: "gpt-4o", Provider: "openai", Status: "error", ErrorMessage: &errMsg},
		},
	}

	h := NewProfileHandler(store)
	rec := httptest.NewRecorder()
	h.HandleGetProfile(rec, profileRequest(&auth.Identity{Scheme: auth.SchemeToken, UserID: "user-1"}, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp profileResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, "user-1", resp.Profile.UserID)
	require.NotNil(t, resp.Profile.Alias)
	assert.Equal(t, "Alice", *resp.Profile.Alias)

	require.NotNil(t, resp.Budget)
	assert.Equal(t, "b-1", resp.Budget.BudgetID)
	assert.Equal(t, 3.5, resp.Budget.Spend)
	require.NotNil(t, resp.Budget.MaxBudget)
	assert.Equal(t, 25.0, *resp.Budget.MaxBudget)

	require.Len(t, resp.Usage, 3)
	for _, name := range []string{"last_24h", "last_7d", "last_30d"} {
		require.Contains(t, resp.Usage, name)
		assert.Equal(t, 12, resp.Usage[name].Requests)
	}

	require.Len(t, resp.RecentUsage, 2)
	assert.Equal(t, "log-1", resp.RecentUsage[0].ID)
	require.NotNil(t, resp.RecentUsage[1].ErrorMessage)
	assert.Equal(t, "rate limited", *resp.RecentUsage[1].ErrorMessage)

	// Default recent window size.
	assert.Equal(t, defaultRecentLimit, store.recentLimit)
}

func TestHandleGetProfileRecentLimit(t *testing.T) {
	store := &fakeProfileStore{user: &models.User{UserID: "user-1"}}
	h := NewProfileHandler(store)

	rec := httptest.NewRecorder()
	h.HandleGetProfile(rec, profileRequest(&auth.Identity{Scheme: auth.SchemeToken, UserID: "user-1"}, "?recent_limit=5"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.recentLimit)

	// Out-of-range values fall back to the default.
	rec = httptest.NewRecorder()
	h.HandleGetProfile(rec, profileRequest(&auth.Identity{Scheme: auth.SchemeToken, UserID: "user-1"}, "?recent_limit=1000"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultRecentLimit, store.recentLimit)
}

func TestHandleGetProfileMasterTargetsNamedUser(t *testing.T) {
	store := &fakeProfileStore{user: &models.User{UserID: "user-9"}}
	h := NewProfileHandler(store)

	rec := httptest.NewRecorder()
	h.HandleGetProfile(rec, profileRequest(&auth.Identity{Scheme: auth.SchemeMaster}, "?user=user-9"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp profileResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "user-9", resp.Profile.UserID)
	assert.Nil(t, resp.Budget)
}
