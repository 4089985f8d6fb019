package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestFetchAll_PartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("alpha"))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="weights.bin"`)
		w.Write([]byte("beta"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL + "/c"
	dead.Close()

	base := t.TempDir()
	f := NewFetcher(server.Client(), base, 2, zaptest.NewLogger(t))
	urls := []string{server.URL + "/a.txt", deadURL, server.URL + "/b"}

	results := f.FetchAll(context.Background(), "job-1", urls)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	failed := 0
	paths := map[string]bool{}
	for i, r := range results {
		if r.URL != urls[i] {
			t.Errorf("result %d out of order: %s", i, r.URL)
		}
		if r.Err != nil {
			failed++
			continue
		}
		if filepath.Dir(r.Path) != filepath.Join(base, "job-1") {
			t.Errorf("path %s outside the job directory", r.Path)
		}
		paths[r.Path] = true
	}

	if failed != 1 || results[1].Err == nil {
		t.Errorf("expected exactly the unreachable URL to fail, got %d failures", failed)
	}
	if len(paths) != 2 {
		t.Errorf("expected 2 distinct paths, got %d", len(paths))
	}

	data, err := os.ReadFile(results[0].Path)
	if err != nil || string(data) != "alpha" {
		t.Errorf("unexpected content %q (%v)", data, err)
	}
	if filepath.Ext(results[0].Path) != ".txt" {
		t.Errorf("expected .txt extension from URL, got %s", results[0].Path)
	}
	if filepath.Ext(results[2].Path) != ".bin" {
		t.Errorf("expected .bin extension from Content-Disposition, got %s", results[2].Path)
	}
}

func TestFetchAll_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	base := t.TempDir()
	f := NewFetcher(server.Client(), base, 1, zaptest.NewLogger(t))
	results := f.FetchAll(context.Background(), "job-1", []string{server.URL})

	if results[0].Err == nil {
		t.Fatal("expected failure for 403")
	}
	entries, _ := os.ReadDir(filepath.Join(base, "job-1"))
	if len(entries) != 0 {
		t.Errorf("expected no files left behind, got %d", len(entries))
	}
}

func TestFetchAll_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("x"))
	}))
	defer server.Close()

	f := NewFetcher(server.Client(), t.TempDir(), 2, zaptest.NewLogger(t))

	urls := make([]string, 8)
	for i := range urls {
		urls[i] = server.URL
	}

	for _, r := range f.FetchAll(context.Background(), "job-1", urls) {
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent downloads, saw %d", peak.Load())
	}
}

func TestFetchAll_Empty(t *testing.T) {
	f := NewFetcher(http.DefaultClient, t.TempDir(), 0, zaptest.NewLogger(t))
	if got := f.FetchAll(context.Background(), "job-1", nil); len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
	if f.maxConcurrency != DefaultMaxConcurrency {
		t.Errorf("expected default concurrency, got %d", f.maxConcurrency)
	}
}

func TestCleanup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	base := t.TempDir()
	f := NewFetcher(server.Client(), base, 1, zaptest.NewLogger(t))
	f.FetchAll(context.Background(), "job-1", []string{server.URL})

	if err := f.Cleanup("job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "job-1")); !os.IsNotExist(err) {
		t.Errorf("expected job directory removed, got %v", err)
	}
}

func TestJobDir_RejectsEscapingIDs(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "keep.txt")
	if err := os.WriteFile(keep, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	f := NewFetcher(server.Client(), filepath.Join(root, "job_files"), 1, zaptest.NewLogger(t))

	for _, id := range []string{"", ".", "..", "../x", "a/b", `a\b`, "/abs"} {
		if _, err := f.JobDir(id); !errors.Is(err, ErrInvalidJobID) {
			t.Errorf("JobDir(%q): expected ErrInvalidJobID, got %v", id, err)
		}
		if err := f.Cleanup(id); !errors.Is(err, ErrInvalidJobID) {
			t.Errorf("Cleanup(%q): expected ErrInvalidJobID, got %v", id, err)
		}
		results := f.FetchAll(context.Background(), id, []string{server.URL})
		if !errors.Is(results[0].Err, ErrInvalidJobID) {
			t.Errorf("FetchAll(%q): expected ErrInvalidJobID, got %v", id, results[0].Err)
		}
	}

	if _, err := os.Stat(keep); err != nil {
		t.Errorf("file outside the base directory was touched: %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Errorf("expected only keep.txt below root, got %d entries", len(entries))
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		cd, url, want string
	}{
		{"", "https://x.example.com/files/model.safetensors", ".safetensors"},
		{`attachment; filename="img.png"`, "https://x.example.com/download?id=1", ".png"},
		{"", "https://x.example.com/blob", ""},
		{`attachment; filename="../../etc/passwd"`, "https://x.example.com/a.jpg", ".jpg"},
		{"", "://bad", ""},
	}
	for _, tt := range tests {
		if got := extension(tt.cd, tt.url); got != tt.want {
			t.Errorf("extension(%q, %q) = %q, want %q", tt.cd, tt.url, got, tt.want)
		}
	}
}
