package osu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "trackbot/pkg/logx"
)

type fakeAPI struct {
	tokenCalls atomic.Int32
	srv        *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"token_type":   "Bearer",
			"expires_in":   86400,
		})
	})
	mux.HandleFunc("/api/v2/users/peppy/osu", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "username", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"id":2,"username":"peppy","country_code":"AU"}`))
	})
	mux.HandleFunc("/api/v2/users/2/scores/best", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiVersion, r.Header.Get("x-api-version"))
		assert.Equal(t, "taiko", r.URL.Query().Get("mode"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			{"id":10,"user_id":2,"pp":301.5,"rank":"S","mods":[{"acronym":"HD"},{"acronym":"DT"}],
			 "ended_at":"2024-05-01T10:00:00Z","beatmap":{"id":1,"version":"Oni"},
			 "beatmapset":{"artist":"a","title":"t"}},
			{"id":11,"user_id":2,"pp":250,"rank":"A","mods":["HR"],"created_at":"2024-04-01T10:00:00Z"}
		]`))
	})
	mux.HandleFunc("/api/v2/users/404/scores/best", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/v2/users/500/scores/best", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	c, err := NewClient(Config{
		ClientID:          "id",
		ClientSecret:      "secret",
		BaseURL:           f.srv.URL,
		RequestsPerMinute: 6000,
	}, logx.Nop())
	require.NoError(t, err)
	return c
}

func TestClientUserAndScores(t *testing.T) {
	t.Parallel()
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	ctx := context.Background()

	u, err := c.User(ctx, "peppy", ModeOsu)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), u.ID)
	assert.Equal(t, "peppy", u.Username)

	scores, err := c.BestScores(ctx, 2, ModeTaiko, 2)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, Mods{"HD", "DT"}, scores[0].Mods)
	assert.Equal(t, "+HDDT", scores[0].Mods.String())
	assert.True(t, scores[0].EndedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Oni", scores[0].Beatmap.Version)
	// created_at fallback
	assert.True(t, scores[1].EndedAt.Equal(time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, Mods{"HR"}, scores[1].Mods)

	// The token is fetched once and reused.
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestClientErrors(t *testing.T) {
	t.Parallel()
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	ctx := context.Background()

	_, err := c.BestScores(ctx, 404, ModeOsu, 5)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.BestScores(ctx, 500, ModeOsu, 5)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)

	scores, err := c.BestScores(ctx, 2, ModeOsu, 0)
	assert.NoError(t, err)
	assert.Nil(t, scores)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Config{}, logx.Nop())
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Mode{"std": ModeOsu, "Taiko": ModeTaiko, "ctb": ModeFruits, "3": ModeMania} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("lazer")
	assert.Error(t, err)
}
