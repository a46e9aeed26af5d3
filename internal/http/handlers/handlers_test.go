package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"trendtide/internal/adapter/repo"
	"trendtide/internal/domain"
	"trendtide/internal/jobs"
	"trendtide/internal/middleware"
	"trendtide/internal/search"
	"trendtide/internal/workflow"
)

type stubEngine struct {
	mu        sync.Mutex
	sent      []workflow.Event
	runs      map[string]*domain.JobRun
	cancelErr error
	cancelled []string
}

func (s *stubEngine) Send(_ context.Context, evt workflow.Event) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, evt)
	return []string{fmt.Sprintf("run_%d", len(s.sent))}, nil
}

func (s *stubEngine) Status(_ context.Context, runID string) (*domain.JobRun, error) {
	if run, ok := s.runs[runID]; ok {
		return run, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubEngine) Cancel(_ context.Context, runID string) error {
	s.cancelled = append(s.cancelled, runID)
	return s.cancelErr
}

type stubSearch struct{ err error }

func (s stubSearch) Thumbnails(_ context.Context, query, _ string) (search.ThumbnailResult, error) {
	if strings.TrimSpace(query) == "" {
		return search.ThumbnailResult{}, domain.NewValidationError("query", "query is required")
	}
	return search.ThumbnailResult{Query: query}, s.err
}

func (s stubSearch) Outliers(_ context.Context, query string) (search.OutlierResult, error) {
	return search.OutlierResult{Query: query}, s.err
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n0000")

func newTestApp() (*App, *stubEngine, *repo.MemoryArtifacts) {
	engine := &stubEngine{runs: map[string]*domain.JobRun{}}
	store := repo.NewMemoryArtifacts()
	return &App{
		Logger:     zerolog.Nop(),
		Engine:     engine,
		Thumbnails: store.Thumbnails(),
		Contents:   store.Contents(),
		Search:     stubSearch{},
		Plans:      domain.NewPlanPolicy([]string{"thumbnail"}, []string{"pro_plan"}),
	}, engine, store
}

func testRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/jobs/thumbnail", app.SubmitThumbnail)
	r.Post("/v1/jobs/content", app.SubmitContent)
	r.Get("/v1/jobs/thumbnail", app.ListThumbnails)
	r.Get("/v1/jobs/content", app.ListContents)
	r.Get("/v1/runs/{run_id}", app.RunStatus)
	r.Post("/v1/runs/{run_id}/cancel", app.CancelRun)
	r.Get("/v1/search/thumbnails", app.SearchThumbnails)
	r.Get("/v1/search/outliers", app.SearchOutliers)
	r.Get("/v1/me", app.Me)
	return r
}

func as(req *http.Request, email, plan string) *http.Request {
	if email == "" {
		return req
	}
	ctx := middleware.ContextWithIdentity(req.Context(), domain.Identity{Email: email, Plan: plan})
	ctx = context.WithValue(ctx, middleware.LocaleKey, "id")
	return req.WithContext(ctx)
}

type filePart struct {
	field, name, mime string
	data              []byte
}

func multipartBody(t *testing.T, content string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if content != "" {
		_ = mw.WriteField("content", content)
	}
	for _, f := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		if f.mime != "" {
			h.Set("Content-Type", f.mime)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		_, _ = part.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return body, mw.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error
}

func TestSubmitRejectsBeforeDispatch(t *testing.T) {
	tests := []struct {
		name       string
		build      func(t *testing.T) *http.Request
		email      string
		plan       string
		wantStatus int
		wantField  string
	}{
		{
			name: "anonymous content",
			build: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/v1/jobs/content", strings.NewReader(`{"title":"How to Learn React"}`))
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "anonymous thumbnail",
			build: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, "a great video idea")
				req := httptest.NewRequest(http.MethodPost, "/v1/jobs/thumbnail", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "empty thumbnail content",
			build: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, "   ")
				req := httptest.NewRequest(http.MethodPost, "/v1/jobs/thumbnail", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			email:      "a@b.c",
			plan:       "pro_plan",
			wantStatus: http.StatusBadRequest,
			wantField:  "content",
		},
		{
			name: "not multipart",
			build: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/v1/jobs/thumbnail", strings.NewReader(`{"content":"x"}`))
			},
			email:      "a@b.c",
			plan:       "pro_plan",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "non image attachment",
			build: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, "a great video idea", filePart{field: "faceImage", name: "cv.pdf", mime: "application/pdf", data: []byte("%PDF-1.7")})
				req := httptest.NewRequest(http.MethodPost, "/v1/jobs/thumbnail", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			email:      "a@b.c",
			plan:       "pro_plan",
			wantStatus: http.StatusBadRequest,
			wantField:  "faceImage",
		},
		{
			name: "oversized attachment",
			build: func(t *testing.T) *http.Request {
				big := append(append([]byte{}, pngBytes...), make([]byte, jobs.MaxAttachmentBytes)...)
				body, ct := multipartBody(t, "a great video idea", filePart{field: "referenceImage", name: "big.png", mime: "image/png", data: big})
				req := httptest.NewRequest(http.MethodPost, "/v1/jobs/thumbnail", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			email:      "a@b.c",
			plan:       "pro_plan",
			wantStatus: http.StatusBadRequest,
			wantField:  "referenceImage",
		},
		{
			name: "invalid json",
			build: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/v1/jobs/content", strings.NewReader(`{"title":`))
			},
			email:      "a@b.c",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "title too short",
			build: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/v1/jobs/content", strings.NewReader(`{"title":"Go"}`))
			},
			email:      "a@b.c",
			wantStatus: http.StatusBadRequest,
			wantField:  "title",
		},
		{
			name: "plan gated kind",
			build: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, "a great video idea")
				req := httptest.NewRequest(http.MethodPost, "/v1/jobs/thumbnail", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			email:      "a@b.c",
			plan:       "free",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app, engine, _ := newTestApp()
			rec := httptest.NewRecorder()
			testRouter(app).ServeHTTP(rec, as(tc.build(t), tc.email, tc.plan))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if len(engine.sent) != 0 {
				t.Fatalf("no event may be emitted, got %d", len(engine.sent))
			}
			if tc.wantField != "" {
				if detail := decodeError(t, rec); detail.Field != tc.wantField || detail.Code != "validation_failed" {
					t.Fatalf("unexpected error detail %+v", detail)
				}
			}
		})
	}
}

func TestSubmitThumbnailDispatchesEvent(t *testing.T) {
	app, engine, _ := newTestApp()
	body, ct := multipartBody(t, "  My morning routine  ",
		filePart{field: "referenceImage", name: "ref.png", data: pngBytes},
		filePart{field: "faceImage", name: "me.png", mime: "image/png", data: pngBytes},
	)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/thumbnail", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, as(req, "creator@example.com", "pro_plan"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var handle domain.RunHandle
	if err := json.NewDecoder(rec.Body).Decode(&handle); err != nil || handle.RunID != "run_1" {
		t.Fatalf("unexpected handle %+v %v", handle, err)
	}
	if len(engine.sent) != 1 || engine.sent[0].Name != domain.EventGenerateThumbnail {
		t.Fatalf("unexpected events %+v", engine.sent)
	}
	var payload jobs.ThumbnailEvent
	if err := json.Unmarshal(engine.sent[0].Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Content != "My morning routine" || payload.UserEmail != "creator@example.com" || payload.Locale != "id" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.ReferenceImage == nil || payload.ReferenceImage.Type != "image/png" || payload.FaceImage == nil {
		t.Fatalf("attachments missing from payload %+v", payload)
	}
}

func TestSubmitContentDispatchesEvent(t *testing.T) {
	app, engine, _ := newTestApp()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/content", strings.NewReader(`{"title":"How to Learn React"}`))
	rec := httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, as(req, "creator@example.com", "free"))

	if rec.Code != http.StatusAccepted || len(engine.sent) != 1 || engine.sent[0].Name != domain.EventGenerateContent {
		t.Fatalf("status=%d events=%d", rec.Code, len(engine.sent))
	}
}

func TestHistoryOwner(t *testing.T) {
	app, _, store := newTestApp()
	ctx := context.Background()
	_ = store.Thumbnails().Insert(ctx, &domain.ThumbnailRecord{UserInput: "old", ThumbnailURL: "u1", UserEmail: "a@b.c", CreatedAt: 1})
	_ = store.Thumbnails().Insert(ctx, &domain.ThumbnailRecord{UserInput: "new", ThumbnailURL: "u2", UserEmail: "a@b.c", CreatedAt: 2})
	_ = store.Thumbnails().Insert(ctx, &domain.ThumbnailRecord{UserInput: "theirs", ThumbnailURL: "u3", UserEmail: "x@y.z", CreatedAt: 3})

	tests := []struct {
		name       string
		url        string
		email      string
		wantStatus int
		wantItems  int
	}{
		{name: "anonymous", url: "/v1/jobs/thumbnail", wantStatus: http.StatusUnauthorized},
		{name: "defaults to caller", url: "/v1/jobs/thumbnail", email: "a@b.c", wantStatus: http.StatusOK, wantItems: 2},
		{name: "explicit own", url: "/v1/jobs/thumbnail?owner=A@B.C", email: "a@b.c", wantStatus: http.StatusOK, wantItems: 2},
		{name: "someone else", url: "/v1/jobs/thumbnail?owner=x@y.z", email: "a@b.c", wantStatus: http.StatusForbidden},
		{name: "empty content history", url: "/v1/jobs/content", email: "a@b.c", wantStatus: http.StatusOK, wantItems: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			testRouter(app).ServeHTTP(rec, as(httptest.NewRequest(http.MethodGet, tc.url, nil), tc.email, ""))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if rec.Code != http.StatusOK {
				return
			}
			if !strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "[") {
				t.Fatalf("history must be a JSON array, got %s", rec.Body.String())
			}
			var items []map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&items); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(items) != tc.wantItems {
				t.Fatalf("items = %v", items)
			}
			if tc.wantItems > 0 && items[0]["userInput"] != "new" {
				t.Fatalf("history not newest first: %v", items)
			}
		})
	}
}

func TestRunStatusAndCancelAreOwnerScoped(t *testing.T) {
	app, engine, _ := newTestApp()
	engine.runs["run_a"] = &domain.JobRun{RunID: "run_a", Status: domain.RunStatusRunning, Payload: json.RawMessage(`{"userEmail":"a@b.c"}`)}

	rec := httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, as(httptest.NewRequest(http.MethodGet, "/v1/runs/run_a", nil), "a@b.c", ""))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"Running"`) {
		t.Fatalf("owner status: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "userEmail") {
		t.Fatalf("payload must not be exposed: %s", rec.Body.String())
	}

	for _, path := range []string{"/v1/runs/run_a", "/v1/runs/missing"} {
		rec = httptest.NewRecorder()
		testRouter(app).ServeHTTP(rec, as(httptest.NewRequest(http.MethodGet, path, nil), "x@y.z", ""))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, as(httptest.NewRequest(http.MethodPost, "/v1/runs/run_a/cancel", nil), "x@y.z", ""))
	if rec.Code != http.StatusNotFound || len(engine.cancelled) != 0 {
		t.Fatalf("foreign cancel must be hidden: %d %v", rec.Code, engine.cancelled)
	}

	rec = httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, as(httptest.NewRequest(http.MethodPost, "/v1/runs/run_a/cancel", nil), "a@b.c", ""))
	if rec.Code != http.StatusAccepted || len(engine.cancelled) != 1 {
		t.Fatalf("cancel: %d %v", rec.Code, engine.cancelled)
	}

	engine.cancelErr = fmt.Errorf("cancel run_a: %w", domain.ErrConflict)
	rec = httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, as(httptest.NewRequest(http.MethodPost, "/v1/runs/run_a/cancel", nil), "a@b.c", ""))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestSearchEndpoints(t *testing.T) {
	app, _, _ := newTestApp()
	cases := []struct {
		url        string
		email      string
		wantStatus int
	}{
		{url: "/v1/search/thumbnails?query=react", wantStatus: http.StatusUnauthorized},
		{url: "/v1/search/thumbnails?query=react", email: "a@b.c", wantStatus: http.StatusOK},
		{url: "/v1/search/thumbnails", email: "a@b.c", wantStatus: http.StatusBadRequest},
		{url: "/v1/search/outliers?query=react", email: "a@b.c", wantStatus: http.StatusOK},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		testRouter(app).ServeHTTP(rec, as(httptest.NewRequest(http.MethodGet, tc.url, nil), tc.email, ""))
		if rec.Code != tc.wantStatus {
			t.Fatalf("%s: status = %d, want %d", tc.url, rec.Code, tc.wantStatus)
		}
	}

	app.Search = stubSearch{err: fmt.Errorf("youtube: %w", domain.ErrProviderFailure)}
	rec := httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, as(httptest.NewRequest(http.MethodGet, "/v1/search/outliers?query=react", nil), "a@b.c", ""))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("provider failure should map to 502, got %d", rec.Code)
	}
}

func TestMeListsAllowedKinds(t *testing.T) {
	app, _, _ := newTestApp()
	rec := httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, as(httptest.NewRequest(http.MethodGet, "/v1/me", nil), "a@b.c", "free"))
	var body meResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Email != "a@b.c" || body.Locale != "id" || len(body.AllowedKinds) != 1 || body.AllowedKinds[0] != string(domain.JobKindContent) {
		t.Fatalf("unexpected me response %+v", body)
	}
}

func TestOpenAPIDocumentRevalidates(t *testing.T) {
	app, _, _ := newTestApp()

	rec := httptest.NewRecorder()
	app.OpenAPIJSON(rec, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("document is not JSON: %v", err)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	app.OpenAPIJSON(rec, req)
	if rec.Code != http.StatusNotModified || rec.Body.Len() != 0 {
		t.Fatalf("revalidation: status %d body %d bytes", rec.Code, rec.Body.Len())
	}
}
