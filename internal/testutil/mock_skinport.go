// Package testutil provides testing utilities for the market gateway.
package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

// ItemsPath is the item list path under the mock base URL.
const ItemsPath = "/v1/items"

// DefaultItemsJSON is a Skinport-shaped item list. The second item has no
// listings, so its min_price is null.
const DefaultItemsJSON = `[
  {
    "market_hash_name": "AK-47 | Redline (Field-Tested)",
    "currency": "EUR",
    "suggested_price": 12.47,
    "item_page": "https://skinport.com/item/csgo/ak-47-redline-field-tested",
    "market_page": "https://skinport.com/market/730?cat=Rifle&item=Redline&type=Field-Tested",
    "min_price": 10.9,
    "max_price": 25.36,
    "mean_price": 13.02,
    "quantity": 317,
    "created_at": 1535988253,
    "updated_at": 1718293104
  },
  {
    "market_hash_name": "10 Year Birthday Sticker Capsule",
    "currency": "EUR",
    "suggested_price": 0.94,
    "item_page": "https://skinport.com/item/csgo/10-year-birthday-sticker-capsule",
    "market_page": "https://skinport.com/market/730?cat=Container&item=10+Year+Birthday+Sticker+Capsule",
    "min_price": null,
    "max_price": null,
    "mean_price": null,
    "quantity": 0,
    "created_at": 1661324437,
    "updated_at": 1718293104
  }
]`

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSkinport is a configurable mock of the Skinport public API.
type MockSkinport struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	requestCount int
	lastQuery    url.Values
	lastHeader   http.Header
}

// NewMockSkinport creates a new mock Skinport server serving
// DefaultItemsJSON on ItemsPath.
func NewMockSkinport() *MockSkinport {
	mock := &MockSkinport{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastQuery = r.URL.Query()
		mock.lastHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		if r.URL.Path == ItemsPath {
			writeBody(w, r, http.StatusOK, DefaultItemsJSON)
			return
		}
		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock base URL, to be used like https://api.skinport.com/v1.
func (m *MockSkinport) URL() string {
	return m.server.URL + "/v1"
}

// Close shuts down the mock server.
func (m *MockSkinport) Close() {
	m.server.Close()
}

// Reset clears the tracking counters.
func (m *MockSkinport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.lastQuery = nil
	m.lastHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSkinport) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockSkinport) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		writeBody(w, r, resp.StatusCode, resp.Body)
	})
}

// SetItemsResponse configures the response of the item list endpoint.
func (m *MockSkinport) SetItemsResponse(resp MockResponse) {
	m.SetResponse(ItemsPath, resp)
}

// RequestCount returns the number of requests made to the server.
func (m *MockSkinport) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastQuery returns the query of the most recent request.
func (m *MockSkinport) LastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// LastHeader returns the headers of the most recent request.
func (m *MockSkinport) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// writeBody writes body brotli-compressed when the client accepts it,
// as the real API does.
func writeBody(w http.ResponseWriter, r *http.Request, status int, body string) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}

	if body != "" && strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		bw.Write([]byte(body))
		bw.Close()

		w.Header().Set("Content-Encoding", "br")
		w.WriteHeader(status)
		w.Write(buf.Bytes())
		return
	}

	w.WriteHeader(status)
	if body != "" {
		w.Write([]byte(body))
	}
}

// NewItemsResponse creates a 200 OK response with the given item list.
func NewItemsResponse(itemsJSON string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       itemsJSON,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter time.Duration) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":[{"id":"rate_limit_exceeded","message":"Too many requests"}]}`,
		Headers: map[string]string{
			"Retry-After": strconv.Itoa(int(retryAfter.Seconds())),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errors":[{"id":"internal_error","message":"Internal server error"}]}`,
	}
}

// NewValidationErrorResponse creates a 400 response as Skinport sends for
// bad query parameters.
func NewValidationErrorResponse(message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"errors":[{"id":"validation_error","message":"` + message + `"}]}`,
	}
}
