package artifact

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	labels  map[string]string
	fail    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}, labels: map[string]string{}}
}

func (f *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.fail > 0 {
		f.fail--
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		f.types[key] = r.Header.Get("Content-Type")
		f.labels[key] = r.Header.Get("X-Artifact-Label-Kind")
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestPutGetDelete(t *testing.T) {
	store := newFakeStore()
	srv := httptest.NewServer(store)
	defer srv.Close()
	c := NewClient(srv.URL+"/", "key")
	defer c.Close()
	ctx := context.Background()

	if err := c.Put(ctx, "jobs/1/out.docx", "application/zip", []byte("PK"), map[string]string{"Kind": "convert"}); err != nil {
		t.Fatal(err)
	}
	if store.labels["jobs/1/out.docx"] != "convert" {
		t.Errorf("labels = %v", store.labels)
	}
	data, ct, err := c.Get(ctx, "jobs/1/out.docx")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "PK" || ct != "application/zip" {
		t.Errorf("got %q %q", data, ct)
	}
	if err := c.Delete(ctx, "jobs/1/out.docx"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Get(ctx, "jobs/1/out.docx"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: %v", err)
	}
	if err := c.Delete(ctx, "jobs/1/out.docx"); err != nil {
		t.Errorf("deleting a missing key: %v", err)
	}
}

func TestRetryableStatus(t *testing.T) {
	store := newFakeStore()
	store.fail = 1
	srv := httptest.NewServer(store)
	defer srv.Close()
	c := NewClient(srv.URL, "key")

	err := c.Put(context.Background(), "k", "text/plain", []byte("x"), nil)
	var re *RetryableError
	if !errors.As(err, &re) || re.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want a retryable 503", err)
	}
	if err := c.Put(context.Background(), "k", "text/plain", []byte("x"), nil); err != nil {
		t.Fatalf("second attempt: %v", err)
	}

	bad := NewClient(srv.URL, "wrong")
	err = bad.Put(context.Background(), "k", "text/plain", nil, nil)
	if err == nil || errors.As(err, &re) {
		t.Errorf("unauthorized should fail without retry, got %v", err)
	}
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	err := NewClient(url, "key").Put(context.Background(), "k", "text/plain", nil, nil)
	var re *RetryableError
	if !errors.As(err, &re) {
		t.Errorf("err = %v, want RetryableError", err)
	}
}
