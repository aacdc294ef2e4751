package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	home := t.TempDir()
	cfg := DefaultConfig()
	cfg.Home = home
	cfg.Engine.BaseURL = "http://127.0.0.1:1/v1"

	catalog := `
[[model]]
name = "local"
url = "http://127.0.0.1:1/local.gguf"
size_bytes = 8
`
	if err := os.WriteFile(filepath.Join(home, "catalog.toml"), []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNew_SyncsCatalog(t *testing.T) {
	d := newTestDaemon(t)
	models, err := d.Session().ListModels()
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	found := false
	for _, m := range models {
		if m.Name == "local" {
			found = true
		}
	}
	if !found {
		t.Errorf("catalog file entry missing from %d models", len(models))
	}
	if _, err := os.Stat(filepath.Join(d.cfg.Home, "pana.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestServe_HealthAndShutdown(t *testing.T) {
	d := newTestDaemon(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	resp, err := http.Get(url + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}

	resp, err = http.Get(url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error: %v", err)
		}
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
