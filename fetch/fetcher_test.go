package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/domsig/horosafe"
	"github.com/hazyhaar/domsig/report"
)

// noopValidator allows all URLs (httptest listens on loopback).
func noopValidator(_ string) error { return nil }

func TestFetch_Success(t *testing.T) {
	// WHAT: GET returns body, status and hash, and sets our user agent.
	// WHY: Core fetcher functionality.
	body := "<html><body><p>Hello, World!</p></body></html>"
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator})
	res, err := f.Fetch(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.StatusCode != 200 || string(res.Body) != body {
		t.Errorf("result: %d %q", res.StatusCode, res.Body)
	}
	if res.Hash != report.HashHTML([]byte(body)) {
		t.Errorf("hash: got %q", res.Hash)
	}
	if !res.Changed {
		t.Error("should be changed (no previous hash)")
	}
	if ua != "domsig/1.0" {
		t.Errorf("user agent: got %q", ua)
	}
}

func TestFetch_UnchangedHash(t *testing.T) {
	// WHAT: Same body hash means Changed=false.
	// WHY: The tracker skips signing pages whose bytes did not move.
	body := "same content"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator})
	res, err := f.Fetch(context.Background(), srv.URL, report.HashHTML([]byte(body)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Error("identical hash should mean not changed")
	}
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator})
	res, err := f.Fetch(context.Background(), srv.URL, "")
	if err == nil {
		t.Fatal("404 should be an error")
	}
	if res == nil || res.StatusCode != 404 {
		t.Errorf("result: %+v", res)
	}
}

func TestFetch_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: noopValidator, MaxBytes: 10})
	if _, err := f.Fetch(context.Background(), srv.URL, ""); !errors.Is(err, horosafe.ErrTooLarge) {
		t.Errorf("oversized body: got %v", err)
	}
}

func TestFetch_SSRFBlocked(t *testing.T) {
	// WHAT: The default validator rejects loopback targets.
	// WHY: Page URLs come from config and API callers.
	f := New(Config{})
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/", "")
	if !errors.Is(err, horosafe.ErrSSRF) {
		t.Errorf("got %v, want ErrSSRF", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte("<p>from disk</p>"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := New(Config{})
	res, err := f.LoadFile(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Body) != "<p>from disk</p>" || !res.Changed || res.StatusCode != 0 {
		t.Errorf("result: %+v", res)
	}

	if _, err := f.LoadFile(filepath.Join(t.TempDir(), "missing.html"), ""); err == nil {
		t.Error("missing file should fail")
	}
}
