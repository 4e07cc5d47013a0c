package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/docforge/internal/artifact"
	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/compare"
	"github.com/dgallion1/docforge/internal/config"
	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/formats"
	"github.com/dgallion1/docforge/internal/license"
	"github.com/dgallion1/docforge/internal/pipeline"
)

const testKey = "secret"

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStore) Put(_ context.Context, key, _ string, data []byte, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", artifact.ErrNotFound
	}
	return data, "text/plain", nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func newTestServer(t *testing.T, store pipeline.ArtifactStore) *Server {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	cfg := config.Defaults()
	cfg.APIKey = testKey
	cfg.WorkerCount = 1
	reg := formats.Registry()
	orch := pipeline.NewOrchestrator(cfg, pipeline.NewWorker(reg, store, nil, log, cfg), log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)
	return NewServer(orch, reg, log, cfg)
}

type part struct {
	field, filename string
	data            []byte
}

func file(field, name, data string) part { return part{field, name, []byte(data)} }
func value(field, v string) part        { return part{field: field, data: []byte(v)} }

func newRequest(t *testing.T, method, path string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		var w io.Writer
		var err error
		if p.filename != "" {
			w, err = mw.CreateFormFile(p.field, p.filename)
		} else {
			w, err = mw.CreateFormField(p.field)
		}
		if err != nil {
			t.Fatal(err)
		}
		w.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testKey)
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func docxWithMergeField(t *testing.T) []byte {
	t.Helper()
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.Write("Hello ")
	if _, err := b.InsertMergeField("Name"); err != nil {
		t.Fatal(err)
	}
	opts, err := formats.ParseSaveOptions(codec.DOCX, nil)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := formats.Registry().Save(context.Background(), &buf, doc, codec.DOCX, opts); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, nil)
	for _, header := range []string{"", "Basic abc", "Bearer wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/api/stats/conversions", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if rec := serve(s, req); rec.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: status %d", header, rec.Code)
		}
	}
}

func TestConvert(t *testing.T) {
	s := newTestServer(t, nil)
	rec := serve(s, newRequest(t, http.MethodPost, "/api/convert",
		file("file", "notes.txt", "alpha\nbeta\n"),
		value("format", "md"),
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "notes.md") {
		t.Errorf("content disposition = %q", cd)
	}
	if body := rec.Body.String(); !strings.Contains(body, "alpha") || !strings.Contains(body, "beta") {
		t.Errorf("body = %q", body)
	}
	if rec.Header().Get("X-Checksum") != pipeline.ContentHashHex(rec.Body.Bytes()) {
		t.Error("checksum header does not match body")
	}
}

func TestConvertErrors(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		parts []part
		want  int
	}{
		{"no file", "/api/convert", nil, http.StatusBadRequest},
		{"binary input", "/api/convert", []part{file("file", "blob.bin", "\x00\x01\x02")}, http.StatusUnsupportedMediaType},
		{"unknown output", "/api/convert", []part{file("file", "a.txt", "x"), value("format", "odt2")}, http.StatusBadRequest},
		{"import only output", "/api/convert", []part{file("file", "a.txt", "x"), value("format", "pdf")}, http.StatusBadRequest},
		{"bad save options", "/api/convert", []part{file("file", "a.txt", "x"), value("format", "txt"), value("options", `{"bogus":1}`)}, http.StatusBadRequest},
		{"compare one input", "/api/compare", []part{file("original", "a.txt", "x")}, http.StatusBadRequest},
		{"bad compare options", "/api/compare", []part{file("original", "a.txt", "x"), file("revised", "b.txt", "y"), value("compare_options", `{"nope":true}`)}, http.StatusBadRequest},
		{"mailmerge bad data", "/api/mailmerge", []part{file("file", "a.txt", "x"), value("data", "[1, 2]")}, http.StatusBadRequest},
	}
	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, newRequest(t, http.MethodPost, tt.path, tt.parts...))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("error body = %s", rec.Body)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	s := newTestServer(t, nil)
	rec := serve(s, newRequest(t, http.MethodPost, "/api/compare",
		file("original", "v1.txt", "the quick fox"),
		file("revised", "v2.txt", "the slow fox"),
		value("author", "reviewer"),
		value("compare_options", `{"ignore_case_changes": true}`),
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "v1-compared.docx") {
		t.Errorf("content disposition = %q", cd)
	}
	var report map[string]int
	if err := json.Unmarshal([]byte(rec.Header().Get("X-Job-Report")), &report); err != nil || report["revisions"] == 0 {
		t.Errorf("report = %q", rec.Header().Get("X-Job-Report"))
	}
}

func TestMergeAndCleanup(t *testing.T) {
	s := newTestServer(t, nil)
	rec := serve(s, newRequest(t, http.MethodPost, "/api/merge",
		file("files", "a.txt", "first"),
		file("files", "b.txt", "second"),
		value("format", "txt"),
		value("merge_options", `{"mode": "merge_formatting"}`),
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("merge status %d: %s", rec.Code, rec.Body)
	}
	if body := rec.Body.String(); strings.Index(body, "first") > strings.Index(body, "second") {
		t.Errorf("merged = %q", body)
	}

	rec = serve(s, newRequest(t, http.MethodPost, "/api/cleanup",
		file("file", "a.txt", "text"),
		value("cleanup_options", `{"unused_styles": true}`),
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Header().Get("X-Job-Report"), "unused_styles_removed") {
		t.Errorf("report = %q", rec.Header().Get("X-Job-Report"))
	}
}

func TestMailMerge(t *testing.T) {
	s := newTestServer(t, nil)
	tmpl := docxWithMergeField(t)
	rec := serve(s, newRequest(t, http.MethodPost, "/api/mailmerge",
		part{"file", "letter.docx", tmpl},
		file("data", "people.csv", "Name\nAnn\nBob\n"),
		value("format", "txt"),
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Hello Ann") || !strings.Contains(body, "Hello Bob") {
		t.Errorf("body = %q", body)
	}
}

func TestDetect(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name, data string
		want       codec.Format
		loadable   bool
	}{
		{"letter.docx", string(docxWithMergeField(t)), codec.DOCX, true},
		{"doc.rtf", `{\rtf1 hi}`, codec.RTF, true},
		{"blob", "\x00\x00", codec.Unknown, false},
	}
	for _, tt := range tests {
		rec := serve(s, newRequest(t, http.MethodPost, "/api/detect", file("file", tt.name, tt.data)))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tt.name, rec.Code)
		}
		var got struct {
			Format   string `json:"format"`
			Loadable bool   `json:"loadable"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Format != tt.want.String() || got.Loadable != tt.loadable {
			t.Errorf("%s: %+v", tt.name, got)
		}
	}
}

func waitForStatus(t *testing.T, s *Server, id string) pipeline.JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := serve(s, newRequest(t, http.MethodGet, "/api/jobs/"+id+"/status"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status poll: %d", rec.Code)
		}
		var snap pipeline.JobSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatal(err)
		}
		if snap.Status.Done() {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s", id, snap.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAsyncJob(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	s := newTestServer(t, store)

	rec := serve(s, newRequest(t, http.MethodPost, "/api/jobs",
		value("kind", "convert"),
		file("file", "notes.txt", "hello"),
		value("format", "html"),
	))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status %d: %s", rec.Code, rec.Body)
	}
	var accepted struct {
		JobID     string `json:"job_id"`
		ResultURL string `json:"result_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatal(err)
	}

	snap := waitForStatus(t, s, accepted.JobID)
	if snap.Status != pipeline.StatusCompleted || snap.ArtifactKey == "" {
		t.Fatalf("snapshot = %+v", snap)
	}

	rec = serve(s, newRequest(t, http.MethodGet, accepted.ResultURL))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "hello") {
		t.Fatalf("result %d: %s", rec.Code, rec.Body)
	}

	rec = serve(s, newRequest(t, http.MethodDelete, "/api/jobs/"+accepted.JobID))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec.Code)
	}
	store.mu.Lock()
	left := len(store.objects)
	store.mu.Unlock()
	if left != 0 {
		t.Errorf("%d artifacts left", left)
	}
	if rec := serve(s, newRequest(t, http.MethodGet, "/api/jobs/"+accepted.JobID+"/status")); rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d", rec.Code)
	}
}

func TestAsyncJobFailure(t *testing.T) {
	s := newTestServer(t, nil)
	rec := serve(s, newRequest(t, http.MethodPost, "/api/jobs", value("kind", "resize"), file("file", "a.txt", "x")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d", rec.Code)
	}

	rec = serve(s, newRequest(t, http.MethodPost, "/api/jobs", value("kind", "convert"), file("file", "a.bin", "\x00\x01")))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status %d: %s", rec.Code, rec.Body)
	}
	var accepted struct {
		JobID string `json:"job_id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &accepted)
	if snap := waitForStatus(t, s, accepted.JobID); snap.Status != pipeline.StatusFailed {
		t.Fatalf("status = %s", snap.Status)
	}
	rec = serve(s, newRequest(t, http.MethodGet, "/api/jobs/"+accepted.JobID+"/result"))
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("result status = %d", rec.Code)
	}
}

func TestStoredResult(t *testing.T) {
	store := &memStore{objects: map[string][]byte{pipeline.ArtifactKey("old"): []byte("kept")}}
	s := newTestServer(t, store)

	rec := serve(s, newRequest(t, http.MethodGet, "/api/jobs/old/result"))
	if rec.Code != http.StatusOK || rec.Body.String() != "kept" {
		t.Errorf("stored result = %d %q", rec.Code, rec.Body)
	}
	rec = serve(s, newRequest(t, http.MethodGet, "/api/jobs/missing/result"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing result = %d", rec.Code)
	}

	noStore := newTestServer(t, nil)
	if rec := serve(noStore, newRequest(t, http.MethodDelete, "/api/jobs/missing")); rec.Code != http.StatusNotFound {
		t.Errorf("delete unknown = %d", rec.Code)
	}
}

func TestConversionStats(t *testing.T) {
	s := newTestServer(t, nil)
	serve(s, newRequest(t, http.MethodPost, "/api/convert", file("file", "a.txt", "x"), value("format", "txt")))
	serve(s, newRequest(t, http.MethodPost, "/api/convert", file("file", "a.bin", "\x00")))

	rec := serve(s, newRequest(t, http.MethodGet, "/api/stats/conversions"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got struct {
		Overall pipeline.StatsSnapshot                  `json:"overall"`
		ByKind  map[pipeline.JobKind]pipeline.KindStats `json:"by_kind"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	conv := got.ByKind[pipeline.KindConvert]
	if got.Overall.Count != 1 || conv.Count != 1 || conv.Failed != 1 {
		t.Errorf("stats = %+v", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", pipeline.ErrBadRequest), http.StatusBadRequest},
		{codec.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{&codec.FormatError{Format: codec.DOCX, Op: "decode", Err: codec.ErrCorrupted}, http.StatusUnprocessableEntity},
		{codec.ErrPasswordRequired, http.StatusUnauthorized},
		{codec.ErrWrongPassword, http.StatusUnauthorized},
		{compare.ErrRevisionConflict, http.StatusConflict},
		{license.ErrNotLicensed, http.StatusPaymentRequired},
		{pipeline.ErrQueueFull, http.StatusServiceUnavailable},
		{pipeline.ErrSaveTimeout, http.StatusGatewayTimeout},
		{&tooLargeError{name: "a", limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.docx":       "report.docx",
		"../../etc/passwd":  "passwd",
		`C:\docs\a..b.docx`: `C:_docs_a_b.docx`,
		"":                  "unnamed",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
