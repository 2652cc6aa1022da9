package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/tablesync/internal/session"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, session.Config{}, zaptest.NewLogger(t))
}

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	s1, err := h.Ensure(ctx, "ZED123")
	require.NoError(t, err)
	s2, err := h.Get(ctx, "ZED123")
	require.NoError(t, err)

	if s1 == nil || s2 == nil || s1 != s2 {
		t.Fatalf("expected same session pointer")
	}

	missing, err := h.Get(ctx, "NOPE00")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHub_ConcurrentEnsureCreatesOneSession(t *testing.T) {
	h := newTestHub(t)

	const n = 32
	got := make([]*session.Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.Ensure(context.Background(), "RACE01")
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	count, err := h.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHub_Create_UsesFreshCodes(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	a, err := h.Create(ctx)
	require.NoError(t, err)
	b, err := h.Create(ctx)
	require.NoError(t, err)

	assert.Len(t, a.Code(), 6)
	assert.NotEqual(t, a.Code(), b.Code())
}

func TestHub_EvictsSessionOnLastLeave(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	s, err := h.Ensure(ctx, "GONE00")
	require.NoError(t, err)
	res, err := s.Join(ctx, 4)
	require.NoError(t, err)

	s.Leave(res.PlayerID)
	<-s.Done()

	require.Eventually(t, func() bool {
		got, err := h.Get(ctx, "GONE00")
		return err == nil && got == nil
	}, time.Second, 5*time.Millisecond)

	// The id is free again and maps to a brand new session.
	fresh, err := h.Ensure(ctx, "GONE00")
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
}

func TestHub_StaleRemoveKeepsReplacement(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	current, err := h.Ensure(ctx, "KEEP00")
	require.NoError(t, err)

	h.Inbox() <- RemoveSession{Code: "KEEP00", Session: &session.Session{}}

	got, err := h.Get(ctx, "KEEP00")
	require.NoError(t, err)
	assert.Same(t, current, got)
}

func TestHub_Shutdown(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	s, err := h.Ensure(ctx, "STOP00")
	require.NoError(t, err)
	_, err = s.Join(ctx, 4)
	require.NoError(t, err)

	h.Shutdown()
	<-s.Done()

	_, err = h.Ensure(ctx, "STOP00")
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode()
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, code)
}
