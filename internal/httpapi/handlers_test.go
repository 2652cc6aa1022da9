package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tablesync/internal/hub"
	"github.com/DoyleJ11/tablesync/internal/protocol"
	"github.com/DoyleJ11/tablesync/internal/session"
	"github.com/DoyleJ11/tablesync/internal/store"
	"github.com/DoyleJ11/tablesync/internal/ws"
)

func newRouter(t *testing.T) (http.Handler, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := zap.NewNop()
	h := hub.NewHub(ctx, session.Config{}, log)
	return SetupRoutes(h, ws.DefaultConfig(), log), h
}

func TestCreateAndGetGame(t *testing.T) {
	r, h := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/games", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.Len(t, created.Code, 6)

	s, err := h.Get(context.Background(), created.Code)
	require.NoError(t, err)
	require.NotNil(t, s)
	res, err := s.Join(context.Background(), 4)
	require.NoError(t, err)
	require.NoError(t, s.Deliver(context.Background(), res.PlayerID, protocol.Update{
		Type:    protocol.TypeUpdate,
		Entries: []store.Entry{{Group: "nicks", Key: res.PlayerID, Value: "alice"}},
	}))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/games/"+created.Code, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Code       string  `json:"code"`
		NumClients int     `json:"numClients"`
		Entries    [][]any `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, created.Code, view.Code)
	assert.Equal(t, 1, view.NumClients)
	assert.Equal(t, [][]any{{"nicks", res.PlayerID, "alice"}}, view.Entries)
}

func TestGetGame_NotFound(t *testing.T) {
	r, _ := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/games/NOPE00", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	r, _ := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
