package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/dgallion1/docforge/internal/codec"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestContentHashHex_EmptyInput(t *testing.T) {
	h := ContentHashHex([]byte{})
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if h != want {
		t.Errorf("expected hash %q, got %q", want, h)
	}
}

func TestNewJob(t *testing.T) {
	req := &Request{Kind: KindMerge, Inputs: []Input{{Name: "a"}, {Name: "b"}}}
	a, b := NewJob(req), NewJob(req)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("job ids %q and %q", a.ID, b.ID)
	}
	if a.Status != StatusQueued || a.Kind != KindMerge || a.Progress.Inputs != 2 {
		t.Errorf("unexpected job %+v", a.Snapshot())
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := &Job{
		ID:        "test-1",
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	transitions := []struct {
		status JobStatus
		phase  string
	}{
		{StatusDecoding, "decoding"},
		{StatusProcessing, "convert"},
		{StatusEncoding, "encoding"},
		{StatusStoring, "storing"},
		{StatusCompleted, "done"},
	}

	for _, tr := range transitions {
		before := job.UpdatedAt
		// Small sleep to ensure time difference is detectable.
		time.Sleep(time.Millisecond)
		job.SetStatus(tr.status, tr.phase)

		if job.Status != tr.status {
			t.Errorf("expected status %q, got %q", tr.status, job.Status)
		}
		if job.Phase != tr.phase {
			t.Errorf("expected phase %q, got %q", tr.phase, job.Phase)
		}
		if !job.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStatus(%q)", tr.status)
		}
	}
	if !job.Status.Done() {
		t.Error("completed job should be done")
	}
}

func TestJob_Fail(t *testing.T) {
	job := &Job{ID: "test-fail", Status: StatusEncoding, UpdatedAt: time.Now()}
	cause := errors.New("boom")
	job.Fail("encoding", cause)
	if job.Status != StatusFailed || job.Phase != "encoding" {
		t.Errorf("status %q phase %q", job.Status, job.Phase)
	}
	if !errors.Is(job.Err(), cause) {
		t.Errorf("Err() = %v", job.Err())
	}
	if snap := job.Snapshot(); len(snap.Progress.Errors) != 1 || snap.Progress.Errors[0] != "boom" {
		t.Errorf("errors = %v", snap.Progress.Errors)
	}
}

func TestJob_AddError(t *testing.T) {
	job := &Job{ID: "err-test", UpdatedAt: time.Now()}
	job.AddError("store jobs/1: timeout")
	job.AddError("store jobs/1: refused")

	snap := job.Snapshot()
	if len(snap.Progress.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(snap.Progress.Errors))
	}
	if snap.Progress.Errors[0] != "store jobs/1: timeout" {
		t.Errorf("expected first error %q, got %q", "store jobs/1: timeout", snap.Progress.Errors[0])
	}
}

func TestJob_Progress(t *testing.T) {
	job := &Job{ID: "incr-test", UpdatedAt: time.Now()}
	job.IncrInputsDecoded()
	job.IncrInputsDecoded()
	job.IncrUploadAttempts()
	job.SetEncodeFraction(0.5)

	snap := job.Snapshot()
	if snap.Progress.InputsDecoded != 2 || snap.Progress.UploadAttempts != 1 || snap.Progress.EncodeFraction != 0.5 {
		t.Errorf("progress = %+v", snap.Progress)
	}
}

func TestJob_SetResultDropsInputs(t *testing.T) {
	req := &Request{Kind: KindConvert, Inputs: []Input{{Name: "a.txt", Data: []byte("x")}}}
	job := NewJob(req)
	job.SetResult(&Result{Data: []byte("out"), Format: codec.Markdown, Filename: "a.md", Report: map[string]int{"n": 1}})
	if job.Request().Inputs != nil {
		t.Error("inputs kept after the result was set")
	}
	snap := job.Snapshot()
	if snap.Filename != "a.md" || snap.Format != "Markdown" || snap.Size != 3 || snap.Report == nil {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	// Snapshot should always return non-nil errors slice.
	job := &Job{ID: "snap-test", UpdatedAt: time.Now()}
	snap := job.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
	if len(snap.Progress.Errors) != 0 {
		t.Errorf("expected empty errors, got %d", len(snap.Progress.Errors))
	}
}

func TestJobStore_PutGetDelete(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := &Job{ID: "store-1", UpdatedAt: time.Now()}
	store.Put(job)

	got := store.Get("store-1")
	if got == nil {
		t.Fatal("expected to get job back")
	}
	if got.ID != "store-1" {
		t.Errorf("expected ID %q, got %q", "store-1", got.ID)
	}
	store.Delete("store-1")
	if store.Get("store-1") != nil || store.Len() != 0 {
		t.Error("expected job to be deleted")
	}
}

func TestJobStore_GetMissing(t *testing.T) {
	store := NewJobStore(time.Hour)
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	expired := &Job{ID: "old", Status: StatusCompleted, UpdatedAt: time.Now()}
	running := &Job{ID: "running", Status: StatusEncoding, UpdatedAt: time.Now()}
	store.Put(expired)
	store.Put(running)

	// Wait for the TTL to pass.
	time.Sleep(100 * time.Millisecond)

	// Add a fresh job.
	fresh := &Job{ID: "new", Status: StatusFailed, UpdatedAt: time.Now()}
	store.Put(fresh)

	store.Cleanup()

	if store.Get("old") != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get("running") == nil {
		t.Error("expected unfinished job to survive cleanup")
	}
	if store.Get("new") == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []JobKind{KindConvert, KindCompare, KindMerge, KindMailMerge, KindCleanup} {
		if got, err := ParseKind(string(k)); err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("ingest"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("err = %v", err)
	}
}

func TestRequestValidate(t *testing.T) {
	doc := Input{Name: "a.txt", Data: []byte("x")}
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"convert", Request{Kind: KindConvert, Inputs: []Input{doc}}, false},
		{"convert two", Request{Kind: KindConvert, Inputs: []Input{doc, doc}}, true},
		{"compare", Request{Kind: KindCompare, Inputs: []Input{doc, doc}}, false},
		{"compare one", Request{Kind: KindCompare, Inputs: []Input{doc}}, true},
		{"merge none", Request{Kind: KindMerge}, true},
		{"empty input", Request{Kind: KindCleanup, Inputs: []Input{{Name: "e"}}}, true},
		{"mailmerge no data", Request{Kind: KindMailMerge, Inputs: []Input{doc}}, true},
		{"mailmerge csv", Request{Kind: KindMailMerge, Inputs: []Input{doc},
			MailMerge: MailMergeParams{Data: []byte("Name\nAnn\n"), DataFormat: "csv"}}, false},
		{"mailmerge bad format", Request{Kind: KindMailMerge, Inputs: []Input{doc},
			MailMerge: MailMergeParams{Data: []byte("x"), DataFormat: "xls"}}, true},
		{"unknown kind", Request{Kind: "ingest", Inputs: []Input{doc}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBadRequest) {
				t.Errorf("error %v is not ErrBadRequest", err)
			}
		})
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		kind JobKind
		name string
		f    codec.Format
		want string
	}{
		{KindConvert, "dir/report.docx", codec.Markdown, "report.md"},
		{KindCompare, "v1.docx", codec.DOCX, "v1-compared.docx"},
		{KindMerge, "a.docx", codec.DOCX, "merged.docx"},
		{KindCleanup, "", codec.RTF, "cleanup.rtf"},
	}
	for _, tt := range tests {
		r := &Request{Kind: tt.kind, Inputs: []Input{{Name: tt.name}}}
		if got := r.outputName(tt.f); got != tt.want {
			t.Errorf("outputName(%s, %q) = %q, want %q", tt.kind, tt.name, got, tt.want)
		}
	}
}
