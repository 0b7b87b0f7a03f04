package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/spf13/afero"

	"github.com/signreel/signreel/internal/clip"
	"github.com/signreel/signreel/internal/dataset"
	"github.com/signreel/signreel/internal/db"
	"github.com/signreel/signreel/internal/media"
	"github.com/signreel/signreel/internal/pipeline"
	"github.com/signreel/signreel/internal/playback"
	"github.com/signreel/signreel/internal/store"
	"github.com/signreel/signreel/internal/timeline"
	"github.com/signreel/signreel/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRenderer struct {
	run func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

func (f *fakeRenderer) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	return f.run(ctx, req)
}

type scheduled struct {
	requestID string
	paths     []string
}

type fakeCleanup struct {
	mu    sync.Mutex
	calls []scheduled
}

func (f *fakeCleanup) Schedule(ctx context.Context, requestID string, paths []string) *store.CleanupTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{requestID, paths})
	return &store.CleanupTask{ID: "t", RequestID: requestID, Paths: paths}
}

func (f *fakeCleanup) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSource struct{ entries []dataset.Entry }

func (s fakeSource) Name() string { return "json" }
func (s fakeSource) Open(context.Context) (dataset.Table, error) {
	return dataset.NewTable(s.entries), nil
}

// renderVideo mimics a successful pipeline run that matched every word.
func renderVideo(fs afero.Fs) func(context.Context, pipeline.Request) (*pipeline.Result, error) {
	return func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
		src, _ := req.Workspace.Sub("src-000-00")
		req.Workspace.Track(filepath.Join(src, "a.mp4"))
		out := req.Workspace.OutputPath()
		if err := afero.WriteFile(fs, out, []byte("fake mp4 payload"), 0o644); err != nil {
			return nil, err
		}
		return &pipeline.Result{
			RequestID: req.ID,
			Status:    pipeline.StatusVideo,
			Output: &timeline.Output{
				Path:       out,
				Geometry:   media.Geometry{Width: 640, Height: 480},
				FrameRate:  25,
				FrameCount: 26,
				Duration:   1040 * time.Millisecond,
				Segments:   []timeline.Segment{{Word: "HELLO", Locator: "A", Window: clip.Window{Start: 1, End: 2}, FrameCount: 26}},
			},
			Words: []pipeline.WordOutcome{{
				Position: 0, Word: "HELLO", Outcome: pipeline.OutcomeMatched, Locator: "A", Frames: 26,
				Entry: mo.Some(dataset.Entry{CleanText: "HELLO", URL: "A", StartTime: 1, EndTime: 2}),
			}},
			Cleanup: req.Workspace.Tracked(),
		}, nil
	}
}

func failWith(err error) func(context.Context, pipeline.Request) (*pipeline.Result, error) {
	return func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
		return &pipeline.Result{RequestID: req.ID, Status: pipeline.StatusError, Cleanup: req.Workspace.Tracked()}, err
	}
}

type testEnv struct {
	cfg     ServerConfig
	router  http.Handler
	fs      afero.Fs
	cleanup *fakeCleanup
	repo    *store.SQLiteRepository
}

func newTestEnv(t *testing.T, run func(context.Context, pipeline.Request) (*pipeline.Result, error)) *testEnv {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	fs := afero.NewMemMapFs()
	env := &testEnv{fs: fs, cleanup: &fakeCleanup{}, repo: store.NewRepository(database.Conn())}
	if run == nil {
		run = renderVideo(fs)
	}
	env.cfg = ServerConfig{
		Renderer:     &fakeRenderer{run: run},
		Workspaces:   workspace.NewManager(fs, "/data/workspaces"),
		Cleanup:      env.cleanup,
		Playback:     playback.NewServer(testLogger()),
		Repository:   env.repo,
		Dataset:      fakeSource{entries: []dataset.Entry{{CleanText: "HELLO", URL: "A"}, {CleanText: "HELLO", URL: "B"}, {CleanText: "WORLD", URL: "C"}}},
		ResolverName: "yt-dlp",
		Logger:       testLogger(),
		StartTime:    time.Now(),
		Version:      "test",
	}
	env.router = NewRouter(env.cfg)
	return env
}

func (e *testEnv) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestFetchVideo_Success(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodPost, "/fetch_asl_video", `{"text": "HELLO"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", ct)
	}
	if rr.Body.String() != "fake mp4 payload" {
		t.Errorf("body = %q", rr.Body.String())
	}

	id := rr.Header().Get("X-Request-ID")
	if len(env.cleanup.calls) != 1 || env.cleanup.calls[0].requestID != id {
		t.Fatalf("cleanup calls = %+v, want one for %s", env.cleanup.calls, id)
	}
	paths := env.cleanup.calls[0].paths
	for _, want := range []string{"/data/workspaces/" + id + "/output.mp4", "/data/workspaces/" + id} {
		found := false
		for _, p := range paths {
			found = found || p == want
		}
		if !found {
			t.Errorf("cleanup paths %v missing %s", paths, want)
		}
	}

	rd, err := env.repo.GetRender(context.Background(), id)
	if err != nil || rd == nil {
		t.Fatalf("GetRender = %v, %v", rd, err)
	}
	if rd.Status != store.RenderStatusVideo || rd.FrameCount != 26 || len(rd.Words) != 1 {
		t.Errorf("render = %+v", rd)
	}
}

func TestFetchVideo_Range(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodPost, "/fetch_asl_video", `{"text": "HELLO"}`, map[string]string{"Range": "bytes=0-3"})
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rr.Code)
	}
	if rr.Body.String() != "fake" {
		t.Errorf("body = %q, want fake", rr.Body.String())
	}
}

func TestFetchVideo_ClientGoneDoesNotCancelRender(t *testing.T) {
	var runCtxErr error
	ran := false
	var env *testEnv
	env = newTestEnv(t, func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
		ran = true
		runCtxErr = ctx.Err()
		return renderVideo(env.fs)(ctx, req)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/fetch_asl_video", strings.NewReader(`{"text": "HELLO"}`)).WithContext(ctx)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if !ran {
		t.Fatal("renderer was not called")
	}
	if runCtxErr != nil {
		t.Errorf("render context error = %v, want a live context", runCtxErr)
	}
	if len(env.cleanup.calls) != 1 {
		t.Errorf("cleanup calls = %d, want 1", len(env.cleanup.calls))
	}
}

func TestFetchVideo_BadRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []string{"", "not json", `{"words": "HELLO"}`, `{"text": 5}`} {
		rr := env.do(http.MethodPost, "/fetch_asl_video", body, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rr.Code)
			continue
		}
		resp := decodeJSONBody(t, rr)
		if resp["success"] != false || resp["error"] == "" {
			t.Errorf("body %q: response = %v", body, resp)
		}
	}
	if len(env.cleanup.calls) != 0 {
		t.Errorf("cleanup scheduled for rejected requests: %+v", env.cleanup.calls)
	}
}

func TestFetchVideo_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantKind   string
	}{
		{"empty result", &pipeline.Error{Kind: pipeline.KindEmptyResult}, http.StatusUnprocessableEntity, "No videos found for the given words", "empty_result"},
		{"assembly failure", &pipeline.Error{Kind: pipeline.KindAssemblyFailure, Err: timelineErr()}, http.StatusUnprocessableEntity, "Failed to assemble video: assembly failed: no frames to write", "assembly_failure"},
		{"fatal", &pipeline.Error{Kind: pipeline.KindFatal, Err: errors.New("dataset unavailable")}, http.StatusInternalServerError, "dataset unavailable", "fatal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, failWith(tt.err))

			rr := env.do(http.MethodPost, "/fetch_asl_video", `{"text": "HELLO"}`, nil)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			resp := decodeJSONBody(t, rr)
			if resp["success"] != false || resp["error"] != tt.wantError {
				t.Errorf("response = %v", resp)
			}
			if len(env.cleanup.calls) != 1 {
				t.Errorf("cleanup calls = %d, want 1", len(env.cleanup.calls))
			}

			rd, _ := env.repo.GetRender(context.Background(), rr.Header().Get("X-Request-ID"))
			if rd == nil || rd.Status != store.RenderStatusError || rd.ErrorKind != tt.wantKind {
				t.Errorf("render = %+v", rd)
			}
		})
	}
}

func timelineErr() error {
	return &timeline.AssemblyError{Reason: "no frames to write"}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(http.MethodPost, "/fetch_asl_video", `{"text": "HELLO"}`, nil)

	rr := env.do(http.MethodGet, "/status", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)

	ds := body["dataset"].(map[string]interface{})
	if ds["backend"] != "json" || ds["entries"] != float64(3) || ds["words"] != float64(2) {
		t.Errorf("dataset = %v", ds)
	}
	if body["resolver"] != "yt-dlp" {
		t.Errorf("resolver = %v", body["resolver"])
	}
	if _, ok := body["tools"]; ok {
		t.Error("tools should be omitted without a doctor")
	}
	if c := body["cleanup"].(map[string]interface{}); c["pending"] != float64(1) {
		t.Errorf("cleanup = %v", c)
	}
	if r := body["renders"].(map[string]interface{}); r["delivered_video"] != float64(1) {
		t.Errorf("renders = %v", r)
	}
}

type fakeDoctor struct{ caps *media.Capabilities }

func (f fakeDoctor) Probe(context.Context) (*media.Capabilities, error) { return f.caps, nil }

func TestStatus_WithCachedCaps(t *testing.T) {
	env := newTestEnv(t, nil)
	doctor := media.NewCachedDoctor(fakeDoctor{caps: &media.Capabilities{
		Tools:     map[string]media.ToolInfo{media.ToolFFmpeg: {Available: true, Version: "6.1"}},
		CanDecode: true,
		CanEncode: true,
		ProbedAt:  time.Now(),
	}}, testLogger())
	if _, err := doctor.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	env.cfg.Doctor = doctor
	env.router = NewRouter(env.cfg)

	body := decodeJSONBody(t, env.do(http.MethodGet, "/status", "", nil))
	tools, ok := body["tools"].(map[string]interface{})
	if !ok {
		t.Fatalf("tools missing: %v", body)
	}
	if tools["can_decode"] != true || tools["can_fetch"] != false {
		t.Errorf("tools = %v", tools)
	}
}

func TestRenders(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.do(http.MethodPost, "/fetch_asl_video", `{"text": "HELLO"}`, nil).Header().Get("X-Request-ID")

	list := decodeJSONBody(t, env.do(http.MethodGet, "/renders", "", nil))
	if renders := list["renders"].([]interface{}); len(renders) != 1 {
		t.Fatalf("renders = %v", renders)
	}

	rr := env.do(http.MethodGet, "/renders/"+id, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if got := decodeJSONBody(t, rr); got["text"] != "HELLO" {
		t.Errorf("render = %v", got)
	}

	rr = env.do(http.MethodGet, "/renders/"+id+"/edl", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "* FROM CLIP NAME:  HELLO") {
		t.Errorf("edl status = %d body %q", rr.Code, rr.Body.String())
	}

	if rr := env.do(http.MethodGet, "/renders/missing", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing render status = %d, want 404", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/renders?limit=abc", "", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rr.Code)
	}
}

func TestRenders_EDLRequiresVideo(t *testing.T) {
	env := newTestEnv(t, failWith(&pipeline.Error{Kind: pipeline.KindEmptyResult}))
	id := env.do(http.MethodPost, "/fetch_asl_video", `{"text": "nope"}`, nil).Header().Get("X-Request-ID")

	if rr := env.do(http.MethodGet, "/renders/"+id+"/edl", "", nil); rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cfg.AuthToken = "secret-token-123"
	env.router = NewRouter(env.cfg)

	for _, path := range []string{"/status", "/renders", "/renders/x"} {
		if rr := env.do(http.MethodGet, path, "", nil); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: status = %d, want 401", path, rr.Code)
		}
	}
	if rr := env.do(http.MethodGet, "/status", "", map[string]string{"Authorization": "Bearer secret-token-123"}); rr.Code != http.StatusOK {
		t.Errorf("/status with token: status = %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/health", "", nil); rr.Code != http.StatusOK {
		t.Errorf("/health must stay public, got %d", rr.Code)
	}
	if rr := env.do(http.MethodPost, "/fetch_asl_video", `{"text": "HELLO"}`, nil); rr.Code != http.StatusOK {
		t.Errorf("/fetch_asl_video must stay public, got %d", rr.Code)
	}
}
