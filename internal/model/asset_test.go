package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnsure_AlreadySatisfiedSkipsNetwork(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokenizer.model")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	asset := Asset{LogicalName: "tokenizer", Path: path, SourceURL: srv.URL, ExpectedMinimumBytes: 5}
	if err := Ensure(context.Background(), "test-skip", []Asset{asset}, EnsureConfig{}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if called {
		t.Error("expected no network call for an already-satisfied asset")
	}
}

func TestEnsure_DownloadsMissingAsset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow_lm_main.onnx")

	body := []byte("fake-onnx-graph-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	asset := Asset{LogicalName: "flow_lm_main", Path: path, SourceURL: srv.URL, ExpectedMinimumBytes: int64(len(body))}
	if err := Ensure(context.Background(), "test-download", []Asset{asset}, EnsureConfig{}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("got %q, want %q", got, body)
	}
}

func TestEnsure_RetriesThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mimi_decoder.onnx")
	body := []byte("decoder-graph")

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	asset := Asset{LogicalName: "mimi_decoder", Path: path, SourceURL: srv.URL, ExpectedMinimumBytes: int64(len(body))}
	cfg := EnsureConfig{Retries: 3, BackoffBase: time.Millisecond}
	if err := Ensure(context.Background(), "test-retry", []Asset{asset}, cfg); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestEnsure_FailsAfterExhaustingRetries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.onnx")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	asset := Asset{LogicalName: "missing", Path: path, SourceURL: srv.URL, ExpectedMinimumBytes: 1}
	cfg := EnsureConfig{Retries: 2, BackoffBase: time.Millisecond}
	err := Ensure(context.Background(), "test-exhaust", []Asset{asset}, cfg)
	if err == nil {
		t.Fatal("expected an aggregate error")
	}

	var assetErr *AssetError
	if !errors.As(err, &assetErr) {
		t.Fatalf("expected an *AssetError in the chain, got %v", err)
	}
	if assetErr.Kind != HTTP {
		t.Errorf("got Kind=%v, want HTTP", assetErr.Kind)
	}

	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("expected the partial file to be removed after exhausting retries")
	}
}

func TestEnsure_CorruptExistingFileIsRedownloaded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "text_conditioner.onnx")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	body := []byte("a-complete-text-conditioner-graph")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	asset := Asset{LogicalName: "text_conditioner", Path: path, SourceURL: srv.URL, ExpectedMinimumBytes: int64(len(body))}
	if err := Ensure(context.Background(), "test-corrupt", []Asset{asset}, EnsureConfig{}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("got %q, want the redownloaded body", got)
	}
}

func TestEnsure_SingleFlightCoalescesConcurrentCallers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voice_encoder.onnx")
	body := []byte("voice-encoder-graph")

	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	asset := Asset{LogicalName: "voice_encoder", Path: path, SourceURL: srv.URL, ExpectedMinimumBytes: int64(len(body))}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = Ensure(context.Background(), "shared-set", []Asset{asset}, EnsureConfig{})
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Ensure[%d]: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected exactly 1 HTTP request across both coalesced callers, got %d", hits.Load())
	}
}
