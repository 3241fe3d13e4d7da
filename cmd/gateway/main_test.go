package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Sternrassler/market-gateway/internal/testutil"
	"github.com/Sternrassler/market-gateway/pkg/config"
)

func TestMain(m *testing.M) {
	decimal.MarshalJSONWithoutQuotes = true
	os.Exit(m.Run())
}

// setupTestApp wires the gateway against miniredis, a mock upstream and a
// Postgres address nothing listens on.
func setupTestApp(t *testing.T) (*httptest.Server, *testutil.MockSkinport) {
	t.Helper()

	mr := miniredis.RunT(t)
	upstream := testutil.NewMockSkinport()
	t.Cleanup(upstream.Close)

	host, portStr, _ := strings.Cut(mr.Addr(), ":")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}

	cfg := config.Load()
	cfg.Redis = config.RedisConfig{Host: host, Port: port}
	cfg.Postgres.Host = "127.0.0.1"
	cfg.Postgres.Port = 1
	cfg.Database.ConnectTimeout = 100 * time.Millisecond
	cfg.Database.RetryInterval = time.Hour
	cfg.Skinport.BaseURL = upstream.URL()
	cfg.Skinport.Timeout = 2 * time.Second

	a, err := newApp(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}

	server := httptest.NewServer(a.server.Handler)
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			t.Errorf("shutdown() error = %v", err)
		}
	})

	return server, upstream
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := setupTestApp(t)

	resp, body := get(t, server.URL+"/health")

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if body != "OK" {
		t.Errorf("Expected body 'OK', got %s", body)
	}
}

func TestReadyEndpoint_DatabaseUnavailable(t *testing.T) {
	server, _ := setupTestApp(t)

	resp, body := get(t, server.URL+"/ready")

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", resp.StatusCode)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode body %q: %v", body, err)
	}
	if got["database"] == "ready" {
		t.Error("database reported ready without a server")
	}
	if got["cache"] != "ok" {
		t.Errorf("cache = %q, want ok", got["cache"])
	}
}

func TestItemsEndpoint_Cached(t *testing.T) {
	server, upstream := setupTestApp(t)

	for i := 0; i < 3; i++ {
		resp, body := get(t, server.URL+"/items?currency=USD")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d, body %s", i, resp.StatusCode, body)
		}
		if !strings.Contains(body, `"suggestedPrice":12.47`) {
			t.Errorf("request %d: body %s lacks numeric price", i, body)
		}
	}

	if got := upstream.RequestCount(); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
	if got := upstream.LastQuery().Get("currency"); got != "USD" {
		t.Errorf("upstream currency = %q, want USD", got)
	}
}

func TestPurchaseEndpoint_DatabaseUnavailable(t *testing.T) {
	server, _ := setupTestApp(t)

	body := `{"userId":"e644218e-8375-4c78-9530-9b6dbe462c81","productId":"f97d89b4-39ea-4f0c-9cff-acdd91a9225e"}`
	resp, err := http.Post(server.URL+"/purchase", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /purchase: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestApp(t)
	get(t, server.URL+"/health")

	resp, body := get(t, server.URL+"/metrics")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	for _, name := range []string{"gateway_http_requests_total", "gateway_db_connection_state"} {
		if !strings.Contains(body, "# HELP "+name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
