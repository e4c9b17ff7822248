package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsCredentials(t *testing.T) {
	var gotAuth, gotUser, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.Header.Get(userHeader)
		gotPath = r.URL.RequestURI()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resolved":false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", Session{Token: "tok", UserID: "alice"})
	out, err := c.Vote(context.Background(), 7, "aye")
	require.NoError(t, err)
	assert.Equal(t, false, out["resolved"])
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "/v1/proposals/7/votes", gotPath)
	assert.Equal(t, "aye", gotBody["vote"])
}

func TestClientPriceQuery(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	supply, demand := 10.0, 20.0
	_, err := NewClient(srv.URL, Session{}).Price(context.Background(), "commodities", "Iron Ore", &supply, &demand)
	require.NoError(t, err)
	assert.Equal(t, "/v1/market/commodities/Iron%20Ore?demand=20&supply=10", gotPath)
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"not a board member"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, Session{}).ActivateAction(context.Background(), 1, "marketing_campaign")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "not a board member", apiErr.Message)
}

func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prev := sessionDir
	sessionDir = func() (string, error) { return dir, nil }
	t.Cleanup(func() { sessionDir = prev })

	s, err := LoadSession()
	require.NoError(t, err)
	assert.Error(t, s.RequireUser())

	require.NoError(t, SaveSession(Session{Token: "tok", UserID: "bob"}))
	s, err = LoadSession()
	require.NoError(t, err)
	assert.Equal(t, Session{Token: "tok", UserID: "bob"}, s)
	assert.NoError(t, s.RequireUser())

	require.NoError(t, ClearSession())
	s, err = LoadSession()
	require.NoError(t, err)
	assert.Empty(t, s.UserID)
}
