package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/docforge/internal/cleanup"
	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/config"
	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/formats"
)

var testLog = slog.New(slog.DiscardHandler)

type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures int
	fatal    bool
	deleted  []string
}

func (m *memStore) Put(_ context.Context, key, _ string, data []byte, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fatal {
		return errors.New("forbidden")
	}
	if m.failures > 0 {
		m.failures--
		return &RetryableError{StatusCode: 503, Message: "busy"}
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key], "", nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.APIKey = "test"
	return cfg
}

func newTestWorker(store ArtifactStore) *Worker {
	w := NewWorker(formats.Registry(), store, nil, testLog, testConfig())
	w.backoff = func(int) time.Duration { return 0 }
	return w
}

func docxBytes(t *testing.T, build func(*doctree.Document, *doctree.Builder)) []byte {
	t.Helper()
	doc := doctree.NewDocument()
	build(doc, doctree.NewBuilder(doc))
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

func run(t *testing.T, w *Worker, req *Request) (*Job, error) {
	t.Helper()
	job := NewJob(req)
	err := w.Process(context.Background(), job)
	return job, err
}

func textInput(name, s string) Input { return Input{Name: name, Data: []byte(s)} }

func TestProcessConvert(t *testing.T) {
	w := newTestWorker(nil)
	job, err := run(t, w, &Request{
		Kind:        KindConvert,
		Inputs:      []Input{textInput("notes.txt", "alpha\nbeta\n")},
		Output:      codec.Text,
		SaveOptions: []byte(`{"paragraph_break": "\n"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	res := job.Result()
	if job.Status != StatusCompleted || res == nil {
		t.Fatalf("status %q, result %v", job.Status, res)
	}
	if got := string(res.Data); !strings.Contains(got, "alpha\nbeta") {
		t.Errorf("output = %q", got)
	}
	if res.Filename != "notes.txt" || res.Checksum != ContentHashHex(res.Data) {
		t.Errorf("result = %+v", res)
	}
	snap := job.Snapshot()
	if snap.Progress.InputsDecoded != 1 || snap.Progress.EncodeFraction != 1 {
		t.Errorf("progress = %+v", snap.Progress)
	}
	if w.Stats().Snapshot().Count != 1 {
		t.Error("latency not recorded")
	}
}

func TestProcessDefaultFormat(t *testing.T) {
	w := newTestWorker(nil)
	job, err := run(t, w, &Request{Kind: KindConvert, Inputs: []Input{textInput("a.txt", "hello")}})
	if err != nil {
		t.Fatal(err)
	}
	res := job.Result()
	if res.Format != codec.DOCX || res.Filename != "a.docx" || !bytes.HasPrefix(res.Data, []byte("PK")) {
		t.Errorf("result %s %s", res.Format, res.Filename)
	}
}

func TestProcessCompare(t *testing.T) {
	w := newTestWorker(nil)
	job, err := run(t, w, &Request{
		Kind:   KindCompare,
		Inputs: []Input{textInput("v1.txt", "the quick fox"), textInput("v2.txt", "the slow fox")},
		Author: "reviewer",
		Output: codec.DOCX,
	})
	if err != nil {
		t.Fatal(err)
	}
	report, ok := job.Result().Report.(map[string]int)
	if !ok || report["revisions"] == 0 {
		t.Errorf("report = %v", job.Result().Report)
	}
}

func TestProcessMerge(t *testing.T) {
	w := newTestWorker(nil)
	job, err := run(t, w, &Request{
		Kind:   KindMerge,
		Inputs: []Input{textInput("a.txt", "first part"), textInput("b.txt", "second part")},
		Output: codec.Text,
	})
	if err != nil {
		t.Fatal(err)
	}
	got := string(job.Result().Data)
	if i, j := strings.Index(got, "first part"), strings.Index(got, "second part"); i < 0 || j < i {
		t.Errorf("merged = %q", got)
	}
}

func TestProcessMailMerge(t *testing.T) {
	tmpl := docxBytes(t, func(_ *doctree.Document, b *doctree.Builder) {
		b.Write("Dear ")
		if _, err := b.InsertMergeField("Name"); err != nil {
			t.Fatal(err)
		}
	})
	w := newTestWorker(nil)
	job, err := run(t, w, &Request{
		Kind:   KindMailMerge,
		Inputs: []Input{{Name: "letter.docx", Data: tmpl}},
		Output: codec.Text,
		MailMerge: MailMergeParams{
			Data:       []byte("name: Ann\n"),
			DataFormat: "yaml",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(job.Result().Data); !strings.Contains(got, "Dear Ann") {
		t.Errorf("merged = %q", got)
	}
}

func TestProcessCleanup(t *testing.T) {
	input := docxBytes(t, func(doc *doctree.Document, b *doctree.Builder) {
		if _, err := doc.Styles().Add(doctree.Style{Name: "Unused", Type: doctree.ParagraphStyle}); err != nil {
			t.Fatal(err)
		}
		b.Write("body")
	})
	w := newTestWorker(nil)
	job, err := run(t, w, &Request{
		Kind:    KindCleanup,
		Inputs:  []Input{{Name: "styled.docx", Data: input}},
		Cleanup: cleanup.Options{UnusedStyles: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	r, ok := job.Result().Report.(cleanup.Result)
	if !ok || r.UnusedStylesRemoved < 1 {
		t.Errorf("report = %+v", job.Result().Report)
	}
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name  string
		req   *Request
		phase string
		want  error
	}{
		{"bad request", &Request{Kind: KindCompare, Inputs: []Input{textInput("a.txt", "x")}}, "validating", ErrBadRequest},
		{"unknown format", &Request{Kind: KindConvert, Inputs: []Input{{Name: "blob", Data: []byte{0, 1, 2, 3}}}}, "decoding", codec.ErrUnsupportedFormat},
		{"unsavable format", &Request{Kind: KindConvert, Inputs: []Input{textInput("a.txt", "x")}, Output: codec.PDF}, "encoding", ErrBadRequest},
		{"bad save options", &Request{Kind: KindConvert, Inputs: []Input{textInput("a.txt", "x")}, Output: codec.Text,
			SaveOptions: []byte(`{"no_such_option": true}`)}, "encoding", ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker(nil)
			job, err := run(t, w, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			snap := job.Snapshot()
			if snap.Status != StatusFailed || snap.Phase != tt.phase {
				t.Errorf("status %q phase %q", snap.Status, snap.Phase)
			}
			if !errors.Is(job.Err(), tt.want) {
				t.Errorf("job.Err() = %v", job.Err())
			}
			if w.Stats().ByKind()[tt.req.Kind].Failed != 1 {
				t.Error("failure not counted")
			}
		})
	}
}

func TestProcessSaveTimeout(t *testing.T) {
	w := newTestWorker(nil)
	w.saveTimeout = time.Nanosecond
	body := strings.Repeat("a line of text to encode\n", 5000)
	_, err := run(t, w, &Request{Kind: KindConvert, Inputs: []Input{textInput("a.txt", body)}, Output: codec.Text})
	if !errors.Is(err, ErrSaveTimeout) || !errors.Is(err, codec.ErrCanceled) {
		t.Errorf("err = %v, want a save timeout", err)
	}
}

func TestProcessUpload(t *testing.T) {
	store := &memStore{failures: 2}
	w := newTestWorker(store)
	job, err := run(t, w, &Request{Kind: KindConvert, Inputs: []Input{textInput("a.txt", "x")}, Output: codec.Text})
	if err != nil {
		t.Fatal(err)
	}
	res := job.Result()
	if res.ArtifactKey != ArtifactKey(job.ID) {
		t.Errorf("artifact key = %q", res.ArtifactKey)
	}
	if !bytes.Equal(store.objects[res.ArtifactKey], res.Data) {
		t.Error("stored bytes differ from the result")
	}
	if n := job.Snapshot().Progress.UploadAttempts; n != 3 {
		t.Errorf("upload attempts = %d, want 3", n)
	}
}

func TestProcessUploadFailureKeepsResult(t *testing.T) {
	tests := []struct {
		name     string
		store    *memStore
		attempts int
	}{
		{"permanent", &memStore{fatal: true}, 1},
		{"retries exhausted", &memStore{failures: MaxRetries}, MaxRetries},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker(tt.store)
			job, err := run(t, w, &Request{Kind: KindConvert, Inputs: []Input{textInput("a.txt", "x")}, Output: codec.Text})
			if err != nil {
				t.Fatal(err)
			}
			snap := job.Snapshot()
			if snap.Status != StatusCompleted || snap.ArtifactKey != "" {
				t.Errorf("status %q, key %q", snap.Status, snap.ArtifactKey)
			}
			if snap.Progress.UploadAttempts != tt.attempts || len(snap.Progress.Errors) != 1 {
				t.Errorf("progress = %+v", snap.Progress)
			}
		})
	}
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !job.Snapshot().Status.Done() {
		if time.Now().After(deadline) {
			t.Fatalf("job %s did not finish", job.ID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOrchestrator(t *testing.T) {
	store := &memStore{}
	cfg := testConfig()
	cfg.WorkerCount = 2
	o := NewOrchestrator(cfg, newTestWorker(store), testLog)
	o.Start(context.Background())
	defer o.Stop()

	var jobs []*Job
	for _, s := range []string{"one", "two", "three"} {
		job := NewJob(&Request{Kind: KindConvert, Inputs: []Input{textInput(s+".txt", s)}, Output: codec.Text})
		if err := o.Submit(job); err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		waitDone(t, job)
		if o.GetJob(job.ID) != job || job.Snapshot().Status != StatusCompleted {
			t.Errorf("job %s: %+v", job.ID, job.Snapshot())
		}
	}

	id := jobs[0].ID
	if err := o.DeleteJob(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if o.GetJob(id) != nil {
		t.Error("job still tracked after delete")
	}
	if len(store.deleted) != 1 || store.deleted[0] != ArtifactKey(id) {
		t.Errorf("deleted artifacts = %v", store.deleted)
	}
}

func TestOrchestratorQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerCount = 0
	cfg.MaxQueueSize = 1
	o := NewOrchestrator(cfg, newTestWorker(nil), testLog)
	o.Start(context.Background())
	defer o.Stop()

	req := &Request{Kind: KindConvert, Inputs: []Input{textInput("a.txt", "x")}}
	if err := o.Submit(NewJob(req)); err != nil {
		t.Fatal(err)
	}
	job := NewJob(req)
	if err := o.Submit(job); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if job.Snapshot().Status != StatusFailed || o.QueueDepth() != 1 {
		t.Errorf("status %q depth %d", job.Snapshot().Status, o.QueueDepth())
	}
}

func TestOrchestratorRun(t *testing.T) {
	o := NewOrchestrator(testConfig(), newTestWorker(nil), testLog)
	job := NewJob(&Request{Kind: KindConvert, Inputs: []Input{textInput("a.txt", "x")}, Output: codec.Markdown})
	if err := o.Run(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if o.GetJob(job.ID) == nil || job.Result().Format != codec.Markdown {
		t.Error("synchronous run not recorded")
	}
}
