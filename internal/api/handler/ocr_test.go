package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/akhbar/internal/backend"
	"github.com/kiranshivaraju/akhbar/internal/cache"
	"github.com/kiranshivaraju/akhbar/internal/progress"
	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// --- fakes ---

type fakePoller struct{ st progress.PollerState }

func (f fakePoller) State() progress.PollerState { return f.st }

type fakeSubmitter struct {
	got   backend.SubmitRequest
	body  [][]byte
	cycle progress.Cycle
	err   error
}

func (f *fakeSubmitter) SubmitAsync(req backend.SubmitRequest) (progress.Cycle, error) {
	f.got = req
	for _, u := range req.Files {
		b, _ := io.ReadAll(u.Content)
		f.body = append(f.body, b)
	}
	if f.err == nil {
		if err := req.Validate(); err != nil {
			return 0, err
		}
	}
	return f.cycle, f.err
}

type fakeFetcher struct {
	snap  *models.ProgressSnapshot
	err   error
	calls int
}

func (f *fakeFetcher) FetchProgress(_ context.Context, _ string) (*models.ProgressSnapshot, error) {
	f.calls++
	return f.snap, f.err
}

// --- helpers ---

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	env := struct {
		Data any `json:"data"`
	}{Data: into}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func parseErr(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env.Error.Code
}

func multipartReq(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/v1/ocr/jobs", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func withJobID(r *http.Request, jobID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("jobID", jobID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// --- progress view ---

func TestProgressHandler_Hidden(t *testing.T) {
	h := NewProgressHandler(progress.NewStore(nil), fakePoller{})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ocr/progress", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var v progress.View
	decodeData(t, rec, &v)
	if v.Visible {
		t.Error("expected hidden view before any job starts")
	}
}

func TestProgressHandler_RendersRunningJob(t *testing.T) {
	store := progress.NewStore(nil)
	c := store.Start("Jang 2026-10-19")
	store.AttachJobID(c, "abc123")
	poller := fakePoller{st: progress.PollerState{
		Phase:       progress.PhasePolling,
		JobID:       "abc123",
		CurrentStep: models.StepCropRegions,
		Images:      map[models.Step]models.ImageRef{models.StepBoundingBoxes: models.NormalizeImage("QUFB")},
	}}

	rec := httptest.NewRecorder()
	NewProgressHandler(store, poller)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ocr/progress", nil))

	var v progress.View
	decodeData(t, rec, &v)
	if !v.Visible || v.JobID != "abc123" {
		t.Fatalf("unexpected view: %+v", v)
	}
	if len(v.Steps) != 4 || v.Steps[1].Status != progress.StepActive {
		t.Errorf("expected step 2 active, got %+v", v.Steps)
	}
	if v.BoundingBoxes == nil || v.BoundingBoxes.Image.IsZero() {
		t.Error("expected bounding box image")
	}
	if v.Current == nil || !v.Current.Spinner {
		t.Error("expected spinner for step without image")
	}
}

// --- state & dismiss ---

func TestStateHandler(t *testing.T) {
	store := progress.NewStore(nil)
	store.Start("x")

	rec := httptest.NewRecorder()
	NewStateHandler(store, fakePoller{st: progress.PollerState{Phase: progress.PhaseIdle}})(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/ocr/state", nil))

	var body stateResponse
	decodeData(t, rec, &body)
	if !body.Job.InProgress || !body.Job.ShowProgress {
		t.Errorf("expected running job state, got %+v", body.Job)
	}
	if body.Poller.Phase != progress.PhaseIdle {
		t.Errorf("expected idle poller, got %q", body.Poller.Phase)
	}
}

func TestDismissHandler(t *testing.T) {
	store := progress.NewStore(nil)
	c := store.Start("x")
	store.AttachJobID(c, "abc")
	snapshots := newSnapshotCache()
	if err := snapshots.Put(context.Background(), "abc", &models.ProgressSnapshot{Step: 1}); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}
	if err := snapshots.Put(context.Background(), "other", &models.ProgressSnapshot{Step: 2}); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	rec := httptest.NewRecorder()
	NewDismissHandler(store, snapshots)(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ocr/progress/dismiss", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st models.JobProgressState
	decodeData(t, rec, &st)
	if st.ShowProgress || st.JobID != "" || st.InProgress {
		t.Errorf("expected reset state, got %+v", st)
	}
	if store.State().ShowProgress {
		t.Error("store was not dismissed")
	}
	if _, _, found, _ := snapshots.Latest(context.Background(), "abc"); found {
		t.Error("dismissed job's snapshot is still cached")
	}
	if _, _, found, _ := snapshots.Latest(context.Background(), "other"); !found {
		t.Error("unrelated job's snapshot was dropped")
	}
}

func TestDismissHandler_NoJobLeavesCacheAlone(t *testing.T) {
	store := progress.NewStore(nil)
	store.Start("x")
	snapshots := newSnapshotCache()
	if err := snapshots.Put(context.Background(), "abc", &models.ProgressSnapshot{Step: 1}); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	rec := httptest.NewRecorder()
	NewDismissHandler(store, snapshots)(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ocr/progress/dismiss", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, _, found, _ := snapshots.Latest(context.Background(), "abc"); !found {
		t.Error("snapshot dropped although no job id was attached")
	}
}

// --- submit ---

func TestSubmitHandler_Accepted(t *testing.T) {
	sub := &fakeSubmitter{cycle: 3}
	req := multipartReq(t,
		map[string]string{"newspaper_date": "2026-10-19", "newspaper_name": "Jang"},
		map[string]string{"page1.jpg": "jpeg-bytes"},
	)

	rec := httptest.NewRecorder()
	NewSubmitHandler(sub)(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var body submitResponse
	decodeData(t, rec, &body)
	if body.Cycle != 3 || body.Files != 1 {
		t.Errorf("unexpected body: %+v", body)
	}
	if sub.got.NewspaperDate != "2026-10-19" || sub.got.NewspaperName != "Jang" {
		t.Errorf("unexpected request: %+v", sub.got)
	}
	if len(sub.body) != 1 || string(sub.body[0]) != "jpeg-bytes" {
		t.Errorf("upload content not preserved: %q", sub.body)
	}
}

func TestSubmitHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		sub      *fakeSubmitter
		fields   map[string]string
		files    map[string]string
		wantCode int
		wantErr  string
	}{
		{"no files", &fakeSubmitter{}, map[string]string{"newspaper_date": "2026-10-19"}, nil,
			http.StatusBadRequest, "INVALID_REQUEST"},
		{"no date", &fakeSubmitter{}, nil, map[string]string{"a.jpg": "x"},
			http.StatusBadRequest, "INVALID_REQUEST"},
		{"not logged in", &fakeSubmitter{err: fmt.Errorf("%w: no token", backend.ErrMissingToken)},
			map[string]string{"newspaper_date": "2026-10-19"}, map[string]string{"a.jpg": "x"},
			http.StatusUnauthorized, "LOGIN_REQUIRED"},
		{"unexpected", &fakeSubmitter{err: fmt.Errorf("boom")},
			map[string]string{"newspaper_date": "2026-10-19"}, map[string]string{"a.jpg": "x"},
			http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewSubmitHandler(tt.sub)(rec, multipartReq(t, tt.fields, tt.files))

			code, errCode := parseErr(t, rec)
			if code != tt.wantCode || errCode != tt.wantErr {
				t.Errorf("got %d %s, want %d %s", code, errCode, tt.wantCode, tt.wantErr)
			}
		})
	}
}

func TestSubmitHandler_NotMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ocr/jobs", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	NewSubmitHandler(&fakeSubmitter{})(rec, req)

	if code, errCode := parseErr(t, rec); code != http.StatusBadRequest || errCode != "INVALID_REQUEST" {
		t.Errorf("got %d %s", code, errCode)
	}
}

// --- snapshot ---

func newSnapshotCache() *cache.ProgressCache {
	return cache.NewProgressCache(cache.NewMemoryCache(), time.Minute, time.Second)
}

func TestSnapshotHandler_FromCache(t *testing.T) {
	pc := newSnapshotCache()
	snap := &models.ProgressSnapshot{Step: models.StepRegions, Images: map[models.Step]models.ImageRef{}}
	if err := pc.Put(context.Background(), "abc", snap); err != nil {
		t.Fatal(err)
	}
	f := &fakeFetcher{}

	rec := httptest.NewRecorder()
	NewSnapshotHandler(pc, f)(rec, withJobID(httptest.NewRequest(http.MethodGet, "/", nil), "abc"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Data models.ProgressSnapshot `json:"data"`
		Meta snapshotMeta            `json:"meta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Data.Step != models.StepRegions || env.Meta.Source != "cache" || env.Meta.StoredAt == "" {
		t.Errorf("unexpected response: %+v", env)
	}
	if f.calls != 0 {
		t.Errorf("backend should not be called on a cache hit, got %d calls", f.calls)
	}
}

func TestSnapshotHandler_FallsBackToBackend(t *testing.T) {
	pc := newSnapshotCache()
	f := &fakeFetcher{snap: &models.ProgressSnapshot{Step: models.StepBoundingBoxes, Images: map[models.Step]models.ImageRef{}}}
	h := NewSnapshotHandler(pc, f)

	rec := httptest.NewRecorder()
	h(rec, withJobID(httptest.NewRequest(http.MethodGet, "/", nil), "abc"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// Second read is served from the cache.
	rec = httptest.NewRecorder()
	h(rec, withJobID(httptest.NewRequest(http.MethodGet, "/", nil), "abc"))
	if f.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", f.calls)
	}
}

func TestSnapshotHandler_BackendErrors(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantErr  string
	}{
		{backend.ErrMissingToken, http.StatusUnauthorized, "LOGIN_REQUIRED"},
		{fmt.Errorf("%w: status 401", backend.ErrUnauthorized), http.StatusUnauthorized, "BACKEND_UNAUTHORIZED"},
		{fmt.Errorf("%w: slow", backend.ErrBackendTimeout), http.StatusGatewayTimeout, "BACKEND_TIMEOUT"},
		{fmt.Errorf("%w: refused", backend.ErrBackendUnreachable), http.StatusBadGateway, "BACKEND_UNAVAILABLE"},
		{fmt.Errorf("%w: bad json", backend.ErrMalformedProgress), http.StatusBadGateway, "BACKEND_ERROR"},
		{fmt.Errorf("%w: 500", backend.ErrBackendStatus), http.StatusBadGateway, "BACKEND_ERROR"},
		{fmt.Errorf("weird"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.wantErr+"/"+tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewSnapshotHandler(newSnapshotCache(), &fakeFetcher{err: tt.err})(rec,
				withJobID(httptest.NewRequest(http.MethodGet, "/", nil), "abc"))

			code, errCode := parseErr(t, rec)
			if code != tt.wantCode || errCode != tt.wantErr {
				t.Errorf("got %d %s, want %d %s", code, errCode, tt.wantCode, tt.wantErr)
			}
		})
	}
}

func TestSnapshotHandler_MissingJobID(t *testing.T) {
	rec := httptest.NewRecorder()
	NewSnapshotHandler(newSnapshotCache(), &fakeFetcher{})(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if code, errCode := parseErr(t, rec); code != http.StatusBadRequest || errCode != "INVALID_REQUEST" {
		t.Errorf("got %d %s", code, errCode)
	}
}
