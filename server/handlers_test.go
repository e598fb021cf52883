package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"ChunkFM/config"
	"ChunkFM/core/delivery"
	"ChunkFM/core/selector"
	"ChunkFM/core/upload"
	"ChunkFM/model"
	"ChunkFM/storage"
)

const (
	testSecret = "test-secret"
	testRef    = "dQw4w9WgXcQ"
)

// fakeTrackRepo is an in-memory stand-in for the MySQL repository, matching
// its contract: not-found lookups return (nil, nil).
type fakeTrackRepo struct {
	mu     sync.Mutex
	tracks map[int64]*model.Track
	nextID int64
}

func newFakeTrackRepo() *fakeTrackRepo {
	return &fakeTrackRepo{tracks: map[int64]*model.Track{}, nextID: 1}
}

func (r *fakeTrackRepo) CreateTrack(track *model.Track) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	cp := *track
	cp.ID = id
	r.tracks[id] = &cp
	return id, nil
}

func (r *fakeTrackRepo) GetTrackByID(id int64) (*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracks[id], nil
}

func (r *fakeTrackRepo) GetTrackByExternalRef(ref string) (*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tracks {
		if t.ExternalRef == ref {
			return t, nil
		}
	}
	return nil, nil
}

func (r *fakeTrackRepo) GetActiveTracks(format string, excludeID int64) ([]*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Track
	for _, t := range r.tracks {
		if !t.Active || t.ID == excludeID {
			continue
		}
		if format != "" && t.Format != format {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeTrackRepo) SetTrackActive(id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[id]
	if !ok {
		return model.ErrTrackNotFound
	}
	t.Active = active
	return nil
}

func (r *fakeTrackRepo) DeleteTrack(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracks[id]; !ok {
		return model.ErrTrackNotFound
	}
	delete(r.tracks, id)
	return nil
}

// fakeNowPlaying is an in-memory liveness registry for handler tests.
type fakeNowPlaying struct {
	mu      sync.Mutex
	entries map[string]model.NowPlayingMarker
}

func newFakeNowPlaying() *fakeNowPlaying {
	return &fakeNowPlaying{entries: map[string]model.NowPlayingMarker{}}
}

func (n *fakeNowPlaying) Set(ctx context.Context, listenerID string, m model.NowPlayingMarker) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries[listenerID] = m
	return nil
}

func (n *fakeNowPlaying) Get(ctx context.Context, listenerID string) (model.NowPlayingMarker, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, ok := n.entries[listenerID]
	if !ok {
		return model.NowPlayingMarker{}, model.ErrNotPlaying
	}
	return m, nil
}

func (n *fakeNowPlaying) Delete(ctx context.Context, listenerID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.entries, listenerID)
	return nil
}

func (n *fakeNowPlaying) Skip(ctx context.Context, listenerID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.entries[listenerID]; !ok {
		return model.ErrNotPlaying
	}
	delete(n.entries, listenerID)
	return nil
}

// testEnv wires the full handler stack over in-memory catalog and liveness
// fakes and a real local chunk store.
type testEnv struct {
	handler *RadioHandler
	repo    *fakeTrackRepo
	store   *storage.LocalChunkStore
	np      *fakeNowPlaying
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		ChunkMode:   config.ChunkModePresplit,
		ChunkSize:   4096,
		AdminSecret: testSecret,
	}
	store, err := storage.NewLocalChunkStore(t.TempDir(), cfg.ChunkMode, cfg.ChunkSize)
	if err != nil {
		t.Fatalf("NewLocalChunkStore: %v", err)
	}
	avail := storage.NewAvailabilityCache(store, cfg.ChunkMode)
	repo := newFakeTrackRepo()
	picker := selector.New(repo, avail)
	np := newFakeNowPlaying()
	engine := delivery.NewEngine(repo, store, picker, np, cfg.ChunkMode, delivery.Options{})
	uploader := upload.NewCoordinator(repo, store, avail, cfg.MaxChunkBytes)

	return &testEnv{
		handler: NewRadioHandler(repo, picker, engine, uploader, np, cfg),
		repo:    repo,
		store:   store,
		np:      np,
	}
}

// seedTrack creates a catalog row with every chunk stored.
func (e *testEnv) seedTrack(t *testing.T, ref string, chunks ...[]byte) *model.Track {
	t.Helper()
	track := &model.Track{
		Title:       "Seeded",
		ExternalRef: ref,
		Format:      "mp3",
		ChunkCount:  len(chunks),
		Active:      true,
	}
	id, err := e.repo.CreateTrack(track)
	if err != nil {
		t.Fatalf("CreateTrack: %v", err)
	}
	track.ID = id
	for i, data := range chunks {
		if _, err := e.store.SaveChunk(context.Background(), id, i, bytes.NewReader(data)); err != nil {
			t.Fatalf("SaveChunk: %v", err)
		}
	}
	return track
}

func doRequest(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	SessionMiddleware(h).ServeHTTP(w, r)
	return w
}

func withListener(r *http.Request, listenerID string) *http.Request {
	r.AddCookie(&http.Cookie{Name: listenerCookie, Value: listenerID})
	return r
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func formRequest(method, target string, form url.Values) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func multipartRequest(t *testing.T, target string, fields map[string]string, fileField string, fileData []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, "payload.bin")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(fileData); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, target, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestGetNextEmptyCatalog(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(env.handler.GetNextHandler, httptest.NewRequest(http.MethodGet, "/get", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body := decodeJSON(t, w); body["error"] != "No songs found" {
		t.Errorf("error = %q, want %q", body["error"], "No songs found")
	}
}

func TestGetNext(t *testing.T) {
	env := newTestEnv(t)
	track := env.seedTrack(t, testRef, []byte("a"), []byte("b"))

	w := doRequest(env.handler.GetNextHandler, httptest.NewRequest(http.MethodGet, "/get", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	if int64(body["current_track"].(float64)) != track.ID {
		t.Errorf("current_track = %v, want %d", body["current_track"], track.ID)
	}
	if int(body["max_chunks"].(float64)) != 2 {
		t.Errorf("max_chunks = %v, want 2", body["max_chunks"])
	}
}

func TestGetNextSkipsIncompleteTrack(t *testing.T) {
	env := newTestEnv(t)
	// Registered for 3 chunks but only 2 uploaded: not playable yet.
	incomplete := &model.Track{Title: "Partial", ExternalRef: testRef, Format: "mp3", ChunkCount: 3, Active: true}
	id, _ := env.repo.CreateTrack(incomplete)
	for i := 0; i < 2; i++ {
		env.store.SaveChunk(context.Background(), id, i, bytes.NewReader([]byte("x")))
	}
	complete := env.seedTrack(t, "aaaaaaaaaaa", []byte("y"))

	w := doRequest(env.handler.GetNextHandler, httptest.NewRequest(http.MethodGet, "/get", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	if int64(body["current_track"].(float64)) != complete.ID {
		t.Errorf("current_track = %v, want complete track %d", body["current_track"], complete.ID)
	}
}

func TestGetNextInvalidPrev(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(env.handler.GetNextHandler, httptest.NewRequest(http.MethodGet, "/get?prev_song=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPlayChunk(t *testing.T) {
	env := newTestEnv(t)
	track := env.seedTrack(t, testRef, []byte("hello"), []byte("world"))

	w := doRequest(env.handler.PlayHandler,
		httptest.NewRequest(http.MethodGet, "/play?current_track=1&current_chunk=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "world" {
		t.Errorf("chunk body = %q, want %q", got, "world")
	}
	if ct := w.Header().Get("Content-Type"); ct != track.ContentType() {
		t.Errorf("content type = %q, want %q", ct, track.ContentType())
	}
}

func TestPlayChunkErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrack(t, testRef, []byte("only"))

	cases := []struct {
		name    string
		target  string
		status  int
		wantErr string
	}{
		{"negative chunk", "/play?current_track=1&current_chunk=-1", http.StatusBadRequest, "Invalid chunk: -1"},
		{"unknown track", "/play?current_track=42&current_chunk=0", http.StatusNotFound, "Song not found: 42"},
		{"past end", "/play?current_track=1&current_chunk=1", http.StatusNotFound, "End of song"},
		{"unparsable chunk", "/play?current_track=1&current_chunk=abc", http.StatusBadRequest, "Invalid chunk: abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(env.handler.PlayHandler, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			if body := decodeJSON(t, w); body["error"] != tc.wantErr {
				t.Errorf("error = %q, want %q", body["error"], tc.wantErr)
			}
		})
	}
}

func TestMetadata(t *testing.T) {
	env := newTestEnv(t)
	marker := model.NowPlayingMarker{TrackID: 1, Title: "Now On Air", ExternalRef: testRef}
	env.np.Set(context.Background(), "listener-1", marker)

	r := withListener(httptest.NewRequest(http.MethodGet, "/metadata", nil), "listener-1")
	w := doRequest(env.handler.MetadataHandler, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	if body["title"] != "Now On Air" {
		t.Errorf("title = %q, want %q", body["title"], "Now On Air")
	}
	if body["url"] != marker.URL() {
		t.Errorf("url = %q, want %q", body["url"], marker.URL())
	}
}

func TestMetadataNothingPlaying(t *testing.T) {
	env := newTestEnv(t)

	r := withListener(httptest.NewRequest(http.MethodGet, "/metadata", nil), "listener-1")
	w := doRequest(env.handler.MetadataHandler, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body := decodeJSON(t, w); body["error"] != "Nothing playing" {
		t.Errorf("error = %q, want %q", body["error"], "Nothing playing")
	}
}

func TestSkip(t *testing.T) {
	env := newTestEnv(t)
	env.np.Set(context.Background(), "listener-1", model.NowPlayingMarker{TrackID: 1, Title: "t", ExternalRef: testRef})

	r := withListener(httptest.NewRequest(http.MethodPost, "/skip", nil), "listener-1")
	w := doRequest(env.handler.SkipHandler, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if _, err := env.np.Get(context.Background(), "listener-1"); err != model.ErrNotPlaying {
		t.Errorf("entry after skip = %v, want ErrNotPlaying", err)
	}

	// Skipping again with no entry is a 404, not an error.
	r = withListener(httptest.NewRequest(http.MethodPost, "/skip", nil), "listener-1")
	if w := doRequest(env.handler.SkipHandler, r); w.Code != http.StatusNotFound {
		t.Errorf("second skip status = %d, want 404", w.Code)
	}
}

func TestUploadRejectsBadSecret(t *testing.T) {
	env := newTestEnv(t)

	r := multipartRequest(t, "/upload", map[string]string{
		"secret": "wrong",
		"url_id": testRef,
		"title":  "Test",
		"format": "mp3",
		"chunks": "1",
	}, "", nil)
	w := doRequest(env.handler.UploadHandler, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decodeJSON(t, w); body["error"] != "Invalid secret" {
		t.Errorf("error = %q, want %q", body["error"], "Invalid secret")
	}
}

func TestUploadTwoPhase(t *testing.T) {
	env := newTestEnv(t)

	// Phase 1: register.
	r := multipartRequest(t, "/upload", map[string]string{
		"secret": testSecret,
		"url_id": testRef,
		"title":  "Uploaded Song",
		"format": "mp3",
		"chunks": "2",
	}, "", nil)
	w := doRequest(env.handler.UploadHandler, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", w.Code, w.Body.String())
	}
	trackID := int64(decodeJSON(t, w)["trackId"].(float64))

	// Phase 2: chunks, out of order.
	for _, c := range []struct {
		index string
		data  string
	}{{"1", "second"}, {"0", "first"}} {
		r := multipartRequest(t, "/upload", map[string]string{
			"secret":        testSecret,
			"current_track": "1",
			"current_chunk": c.index,
		}, "chunk", []byte(c.data))
		w := doRequest(env.handler.UploadHandler, r)
		if w.Code != http.StatusOK {
			t.Fatalf("chunk %s status = %d, body %s", c.index, w.Code, w.Body.String())
		}
	}

	// The uploaded track is now fully playable.
	w = doRequest(env.handler.PlayHandler,
		httptest.NewRequest(http.MethodGet, "/play?current_track=1&current_chunk=0", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("play status = %d, body %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "first" {
		t.Errorf("chunk body = %q, want %q", got, "first")
	}

	track, _ := env.repo.GetTrackByID(trackID)
	if track == nil || !track.Active {
		t.Errorf("uploaded track row = %+v, want active", track)
	}
}

func TestUploadDuplicateRef(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrack(t, testRef, []byte("x"))

	r := multipartRequest(t, "/upload", map[string]string{
		"secret": testSecret,
		"url_id": testRef,
		"title":  "Again",
		"format": "mp3",
		"chunks": "1",
	}, "", nil)
	w := doRequest(env.handler.UploadHandler, r)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestUploadChunkOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrack(t, testRef, []byte("x"))

	r := multipartRequest(t, "/upload", map[string]string{
		"secret":        testSecret,
		"current_track": "1",
		"current_chunk": "5",
	}, "chunk", []byte("data"))
	w := doRequest(env.handler.UploadHandler, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t)
	track := env.seedTrack(t, testRef, []byte("x"))

	// DELETE carries no parsed body, so the fields ride the query string.
	target := "/remove?secret=" + testSecret + "&track=1"
	w := doRequest(env.handler.RemoveHandler, httptest.NewRequest(http.MethodDelete, target, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got, _ := env.repo.GetTrackByID(track.ID); got != nil {
		t.Error("catalog row survived removal")
	}

	w = doRequest(env.handler.RemoveHandler, httptest.NewRequest(http.MethodDelete, target, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("second remove status = %d, want 404", w.Code)
	}
}

func TestToggle(t *testing.T) {
	env := newTestEnv(t)
	track := env.seedTrack(t, testRef, []byte("x"))

	w := doRequest(env.handler.ToggleHandler, formRequest(http.MethodPost, "/toggle", url.Values{
		"secret": {testSecret},
		"track":  {"1"},
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body := decodeJSON(t, w); body["active"] != false {
		t.Errorf("active = %v, want false", body["active"])
	}
	got, _ := env.repo.GetTrackByID(track.ID)
	if got.Active {
		t.Error("track still active after toggle")
	}

	// Toggled-off tracks drop out of selection.
	w = doRequest(env.handler.GetNextHandler, httptest.NewRequest(http.MethodGet, "/get", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("get-next after toggle status = %d, want 404", w.Code)
	}
}

func TestToggleUnknownTrack(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(env.handler.ToggleHandler, formRequest(http.MethodPost, "/toggle", url.Values{
		"secret": {testSecret},
		"track":  {"42"},
	}))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestToggleNoSecretConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.handler.cfg.AdminSecret = ""
	env.seedTrack(t, testRef, []byte("x"))

	// An unset secret disables every admin mutation rather than opening it.
	w := doRequest(env.handler.ToggleHandler, formRequest(http.MethodPost, "/toggle", url.Values{
		"secret": {""},
		"track":  {"1"},
	}))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSessionMiddlewareSetsCookie(t *testing.T) {
	var seen string
	h := SessionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ListenerIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("no listener id in request context")
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == listenerCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != seen {
		t.Fatalf("cookie = %+v, want value %q", cookie, seen)
	}

	// A returning listener keeps its id and gets no new cookie.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r)
	if seen != cookie.Value {
		t.Errorf("listener id changed across requests: %q", seen)
	}
	if len(w2.Result().Cookies()) != 0 {
		t.Error("cookie reissued for a returning listener")
	}
}
