//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/market-gateway/internal/testutil"
	"github.com/Sternrassler/market-gateway/pkg/api"
	"github.com/Sternrassler/market-gateway/pkg/cache"
	"github.com/Sternrassler/market-gateway/pkg/database"
	"github.com/Sternrassler/market-gateway/pkg/fetch"
	"github.com/Sternrassler/market-gateway/pkg/pricing"
	"github.com/Sternrassler/market-gateway/pkg/ratelimit"
	"github.com/Sternrassler/market-gateway/pkg/store"
)

func TestMain(m *testing.M) {
	decimal.MarshalJSONWithoutQuotes = true
	os.Exit(m.Run())
}

type gateway struct {
	server   *httptest.Server
	upstream *testutil.MockSkinport
	redis    *redis.Client
	manager  *database.Manager
	dsn      string
}

// setupGateway wires the full stack against Postgres and Redis containers
// and a mock upstream.
func setupGateway(t *testing.T) *gateway {
	t.Helper()
	logger := zerolog.Nop()

	pgHost, pgPort := testutil.StartPostgres(t)
	dsn := testutil.PostgresDSN(pgHost, pgPort)
	redisAddr := testutil.StartRedis(t)

	upstream := testutil.NewMockSkinport()
	t.Cleanup(upstream.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { redisClient.Close() })
	redisStore := cache.NewRedisStore(redisClient)
	aside := cache.NewAside(redisStore, logger)
	tracker := ratelimit.NewTracker(redisClient, logger)

	fetchCfg := fetch.DefaultConfig("market-gateway-integration/1.0")
	fetchCfg.Retry = fetch.RetryConfig{MaxAttempts: 1}
	fetchCfg.Limiter = tracker
	fetcher, err := fetch.New(fetchCfg, logger)
	require.NoError(t, err)
	pricingSvc := pricing.NewService(fetcher, aside, pricing.Config{BaseURL: upstream.URL(), TTL: time.Minute}, logger)

	dial, err := database.PgxDialer(dsn, 5*time.Second)
	require.NoError(t, err)
	managerCfg := database.DefaultManagerConfig()
	managerCfg.RetryInterval = 200 * time.Millisecond
	managerCfg.HealthCheckInterval = 200 * time.Millisecond
	manager := database.NewManager(dial, managerCfg, logger)
	t.Cleanup(func() { manager.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, manager.WaitReady(ctx))

	executor := database.NewExecutor(manager, 5*time.Second, logger)
	purchases := store.New(executor, logger)
	require.NoError(t, purchases.EnsureSchema(ctx))

	handler := api.NewHandler(api.Deps{
		Pricing:  pricingSvc,
		Store:    purchases,
		Database: manager,
		Cache:    aside,
		Redis:    redisStore,
		Cooldown: tracker,
		Defaults: pricing.Defaults{AppID: pricing.DefaultAppID, Currency: pricing.DefaultCurrency},
	}, logger)

	server := httptest.NewServer(api.NewRouter(handler, promhttp.Handler(), logger))
	t.Cleanup(server.Close)

	return &gateway{server: server, upstream: upstream, redis: redisClient, manager: manager, dsn: dsn}
}

func (g *gateway) do(t *testing.T, method, path, body string) (int, http.Header, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, g.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, resp.Header, decoded
}

func (g *gateway) items(t *testing.T, query string) (int, []map[string]any) {
	t.Helper()
	resp, err := http.Get(g.server.URL + "/items" + query)
	require.NoError(t, err)
	defer resp.Body.Close()

	var items []map[string]any
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	}
	return resp.StatusCode, items
}

func purchaseBody(accountID, productID fmt.Stringer) string {
	return fmt.Sprintf(`{"userId":%q,"productId":%q}`, accountID.String(), productID.String())
}

func TestGateway_ReadyAndSeed(t *testing.T) {
	g := setupGateway(t)

	resp, err := http.Get(g.server.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, _, body := g.do(t, http.MethodPost, "/seed", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Database seeded successfully", body["message"])
	users := body["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "50.00", users[0].(map[string]any)["balance"])
	assert.Len(t, body["products"].([]any), 2)
}

func TestGateway_PurchaseUntilInsufficientFunds(t *testing.T) {
	g := setupGateway(t)
	status, _, _ := g.do(t, http.MethodPost, "/seed", "")
	require.Equal(t, http.StatusOK, status)

	var balance string
	for i := 1; i <= 6; i++ {
		status, _, body := g.do(t, http.MethodPost, "/purchase", purchaseBody(store.SeedAccountID, store.SeedAgentID))
		require.Equal(t, http.StatusOK, status, "purchase %d: %v", i, body)
		balance = body["data"].(map[string]any)["balance"].(string)
	}
	assert.Equal(t, "1.40", balance)

	status, _, body := g.do(t, http.MethodPost, "/purchase", purchaseBody(store.SeedAccountID, store.SeedAgentID))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Insufficient balance or invalid user/product", body["error"])
}

func TestGateway_ItemsCachedAndFlushed(t *testing.T) {
	g := setupGateway(t)

	status, items := g.items(t, "?appId=730&currency=EUR")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, items, 2)
	assert.Equal(t, 12.47, items[0]["suggestedPrice"])
	assert.Nil(t, items[1]["minPrice"])

	status, _ = g.items(t, "?appId=730&currency=EUR")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, g.upstream.RequestCount(), "second request should be served from Redis")

	// A different parameter tuple is a different entry.
	status, _ = g.items(t, "?appId=730&currency=USD")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, g.upstream.RequestCount())

	status, _, _ = g.do(t, http.MethodPost, "/admin/cache/flush", "")
	require.Equal(t, http.StatusOK, status)

	status, _ = g.items(t, "?appId=730&currency=EUR")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, g.upstream.RequestCount(), "flush should force a refetch")
}

func TestGateway_UpstreamFailureNotCached(t *testing.T) {
	g := setupGateway(t)
	g.upstream.SetItemsResponse(testutil.NewServerErrorResponse())

	status, _, body := g.do(t, http.MethodGet, "/items", "")
	require.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, float64(http.StatusInternalServerError), body["upstreamStatus"])

	g.upstream.SetItemsResponse(testutil.NewItemsResponse(testutil.DefaultItemsJSON))
	status, items := g.items(t, "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, items, 2)
}

func TestGateway_UpstreamCooldownShared(t *testing.T) {
	g := setupGateway(t)
	g.upstream.SetItemsResponse(testutil.NewRateLimitResponse(30 * time.Second))

	status, header, _ := g.do(t, http.MethodGet, "/items?currency=GBP", "")
	require.Equal(t, http.StatusServiceUnavailable, status)
	assert.NotEmpty(t, header.Get("Retry-After"))
	require.Equal(t, 1, g.upstream.RequestCount())

	// While cooling down the upstream is not contacted at all.
	status, _, _ = g.do(t, http.MethodGet, "/items?currency=SEK", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, 1, g.upstream.RequestCount())

	ttl, err := g.redis.TTL(context.Background(), ratelimit.RedisKeyCooldownUntil).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 25*time.Second)
}

func TestGateway_RecoversFromTerminatedConnection(t *testing.T) {
	g := setupGateway(t)
	status, _, _ := g.do(t, http.MethodPost, "/seed", "")
	require.Equal(t, http.StatusOK, status)

	// Kill the gateway's backend from a second session.
	ctx := context.Background()
	admin, err := pgx.Connect(ctx, g.dsn)
	require.NoError(t, err)
	defer admin.Close(ctx)
	_, err = admin.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE datname = current_database() AND pid <> pg_backend_pid()`)
	require.NoError(t, err)

	// The health check notices the loss and the manager reconnects.
	assert.Eventually(t, func() bool {
		status, _, _ := g.do(t, http.MethodPost, "/purchase", purchaseBody(store.SeedAccountID, store.SeedCapsuleID))
		return status == http.StatusOK
	}, 15*time.Second, 200*time.Millisecond)
	assert.Equal(t, database.StateReady, g.manager.State())
}
