package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testEnv(t *testing.T) Env {
	t.Helper()
	return Env{
		DBPath:     filepath.Join(t.TempDir(), "auth.db"),
		SigningKey: "test-signing-key",
		BaseURL:    "http://localhost:0",
	}
}

func TestNewRequiresSigningKey(t *testing.T) {
	cfg := testEnv(t)
	cfg.SigningKey = ""

	if _, err := New("127.0.0.1:0", cfg); err == nil {
		t.Fatal("New() error = nil, want error")
	}
}

func TestServeAndShutdown(t *testing.T) {
	srv, err := New("127.0.0.1:0", testEnv(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Addr() == "" {
		t.Fatal("Addr() is empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	resp, err := http.Get("http://" + srv.Addr() + "/up")
	if err != nil {
		t.Fatalf("health request error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not stop after cancel")
	}
}

func TestOpenAuthStoreInvalidDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("data"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := openAuthStore(filepath.Join(file, "auth.db")); err == nil {
		t.Fatal("expected error for invalid storage dir")
	}
}
