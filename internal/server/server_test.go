package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natikgadzhi/notion-mirror/internal/notify"
	mirrorsync "github.com/natikgadzhi/notion-mirror/internal/sync"
)

const (
	timeout = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type fakeSyncer struct {
	mu     sync.Mutex
	calls  []string
	forces []bool
	err    error
	block  chan struct{}
	ctxErr error
}

func (f *fakeSyncer) Sync(ctx context.Context, slug string, force bool) (*mirrorsync.Summary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, slug)
	f.forces = append(f.forces, force)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.ctxErr = ctx.Err()
	f.mu.Unlock()
	return &mirrorsync.Summary{RunID: "run-1", Processed: 1, Synced: 1}, f.err
}

type fakeNotifier struct {
	failures []notify.Failure
}

func (f *fakeNotifier) Notify(fl notify.Failure) <-chan struct{} {
	f.failures = append(f.failures, fl)
	done := make(chan struct{})
	close(done)
	return done
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func trigger(t *testing.T, h http.Handler, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSync_ReturnsSummary(t *testing.T) {
	s := &fakeSyncer{}
	srv := New(s, &fakeNotifier{}, "secret", quietLogger())

	rec := trigger(t, srv.Router(), "/api/sync?slug=/about/&force=true", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var sum mirrorsync.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 1, sum.Synced)

	assert.Equal(t, []string{"about"}, s.calls)
	assert.Equal(t, []bool{true}, s.forces)
}

func TestSync_EmptySlugSyncsEverything(t *testing.T) {
	s := &fakeSyncer{}
	srv := New(s, nil, "secret", quietLogger())

	rec := trigger(t, srv.Router(), "/api/sync", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{""}, s.calls)
	assert.Equal(t, []bool{false}, s.forces)
}

func TestSync_RequiresToken(t *testing.T) {
	s := &fakeSyncer{}
	srv := New(s, nil, "secret", quietLogger())

	for _, token := range []string{"", "wrong"} {
		rec := trigger(t, srv.Router(), "/api/sync", token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "token %q", token)
	}
	assert.Empty(t, s.calls)
}

func TestSync_EmptyConfiguredTokenRejectsEverything(t *testing.T) {
	s := &fakeSyncer{}
	srv := New(s, nil, "", quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, s.calls)
}

func TestSync_InvalidForce(t *testing.T) {
	s := &fakeSyncer{}
	srv := New(s, nil, "secret", quietLogger())

	rec := trigger(t, srv.Router(), "/api/sync?force=maybe", "secret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.calls)
}

func TestSync_FailureNotifies(t *testing.T) {
	s := &fakeSyncer{err: errors.New("syncing about: fetching item meta: boom")}
	n := &fakeNotifier{}
	srv := New(s, n, "secret", quietLogger())

	rec := trigger(t, srv.Router(), "/api/sync?slug=about", "secret")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body.Error, "boom")

	require.Len(t, n.failures, 1)
	assert.Equal(t, notify.Failure{Error: s.err.Error(), Slug: "about", RunID: "run-1"}, n.failures[0])
}

func TestSync_RejectsConcurrentRun(t *testing.T) {
	s := &fakeSyncer{block: make(chan struct{})}
	srv := New(s, nil, "secret", quietLogger())
	h := srv.Router()

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- trigger(t, h, "/api/sync", "secret")
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.calls) == 1
	}, timeout, tick)

	rec := trigger(t, h, "/api/sync", "secret")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(s.block)
	first := <-done
	assert.Equal(t, http.StatusOK, first.Code)
}

func TestHealthz(t *testing.T) {
	srv := New(&fakeSyncer{}, nil, "secret", quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv := New(&fakeSyncer{}, nil, "secret", quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx, "127.0.0.1:0")
	}()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("server did not stop")
	}
}

func TestSync_CallerDisconnectDoesNotCancelRun(t *testing.T) {
	s := &fakeSyncer{}
	srv := New(s, &fakeNotifier{}, "secret", quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/sync?slug=about", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []string{"about"}, s.calls)
	assert.NoError(t, s.ctxErr, "the run context outlives the request")
}
