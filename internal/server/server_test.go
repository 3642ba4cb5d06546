package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/quaver-audio/quaver/internal/cache"
	"github.com/quaver-audio/quaver/internal/events"
	"github.com/quaver-audio/quaver/internal/library"
	"github.com/quaver-audio/quaver/internal/loop"
	"github.com/quaver-audio/quaver/internal/scanner"
	"github.com/quaver-audio/quaver/internal/server"
	"github.com/quaver-audio/quaver/pkg/timers"

	"github.com/spf13/afero"
)

type fixture struct {
	router *gin.Engine
	store  *library.Store
	loop   *loop.Loop
	hub    *events.Hub
	cache  *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := library.Open(
		filepath.Join(t.TempDir(), "library.db"), nil,
	)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	l := loop.New(timers.New(nil), nil)
	l.Start()
	t.Cleanup(l.Stop)

	mr := miniredis.RunT(t)
	c := cache.New(mr.Addr(), "", 0, "quaver-test", time.Minute)
	t.Cleanup(func() {
		_ = c.Close()
	})

	hub := events.NewHub()
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/srv/music", 0o755); err != nil {
		t.Fatalf("mkdir music root: %v", err)
	}
	sc := scanner.New(
		fsys, "/srv/music", store, hub, c, l, time.Hour, nil,
	)

	srv := server.New(l, store, sc, c, hub)
	return &fixture{
		router: srv.SetupRoutes(),
		store:  store,
		loop:   l,
		hub:    hub,
		cache:  c,
	}
}

func (f *fixture) request(
	t *testing.T, method, path, body string,
) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.request(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotContains(t, resp, "last_scan")
}

func TestHealthReportsLastScan(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.cache.SetScanStatus(
		context.Background(), &cache.ScanStatus{
			CompletedAt: time.Now().UTC(),
			Result: events.ScanResult{
				Root:  "/srv/music",
				Added: 3,
			},
		}))

	w := f.request(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "last_scan")
	assert.Contains(t, w.Body.String(), `"added":3`)
}

func TestListTracksEmpty(t *testing.T) {
	f := newFixture(t)

	w := f.request(t, http.MethodGet, "/library/tracks", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tracks": []}`, w.Body.String())
}

func TestLibraryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.UpsertTrack(ctx, &library.Track{
		Path: "a.flac", Artist: "Miles Davis",
	})
	assert.NoError(t, err)

	w := f.request(t, http.MethodPost, "/library/libraries",
		`{"name": "Jazz", "predicate": "artist == \"Miles Davis\""}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	var lib library.VirtualLibrary
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &lib))
	assert.NotEmpty(t, lib.ID)

	w = f.request(t, http.MethodGet, "/library/libraries", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"members":1`)

	w = f.request(t, http.MethodGet,
		"/library/libraries/"+string(lib.ID)+"/members", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a.flac")

	w = f.request(t, http.MethodDelete,
		"/library/libraries/"+string(lib.ID), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.request(t, http.MethodDelete,
		"/library/libraries/"+string(lib.ID), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateLibraryRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	w := f.request(t, http.MethodPost, "/library/libraries",
		`{"name": "No Predicate"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.request(t, http.MethodPost, "/library/libraries",
		`{"name": "Broken", "predicate": "artist =="}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMembersOfUnknownLibrary(t *testing.T) {
	f := newFixture(t)

	w := f.request(t, http.MethodGet, "/library/libraries/nope/members", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTimers(t *testing.T) {
	f := newFixture(t)

	err := f.loop.Do(func(s *timers.Scheduler) {
		_, err := s.ScheduleNormal(
			"session-1", time.Now().Add(time.Hour),
			func(any, ...any) any { return nil },
		)
		assert.NoError(t, err)
	})
	assert.NoError(t, err)

	w := f.request(t, http.MethodGet, "/timers", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"queue":"normal"`)
	assert.Contains(t, w.Body.String(), `"target":"session-1"`)
}

func TestScanEndpoint(t *testing.T) {
	f := newFixture(t)

	ch, unsub := f.hub.Subscribe()
	defer unsub()

	w := f.request(t, http.MethodPost, "/scan", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeScanCompleted {
				return
			}
		case <-deadline:
			t.Fatal("scan did not complete")
		}
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := newFixture(t)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	defer conn.Close()

	// Give the server a beat to register the subscriber before publishing
	assert.Eventually(t, func() bool {
		return f.hub.Subscribers() > 0
	}, time.Second, 10*time.Millisecond)

	f.hub.Publish(events.TypeTrackAdded, events.TrackChange{Path: "a.mp3"})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev events.Event
	assert.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeTrackAdded, ev.Type)
}
