package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/market-gateway/pkg/database"
	"github.com/Sternrassler/market-gateway/pkg/fetch"
	"github.com/Sternrassler/market-gateway/pkg/logging"
	"github.com/Sternrassler/market-gateway/pkg/pricing"
	"github.com/Sternrassler/market-gateway/pkg/ratelimit"
	"github.com/Sternrassler/market-gateway/pkg/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// PricingService serves market items.
type PricingService interface {
	GetMarketItems(ctx context.Context, q pricing.Query) ([]pricing.MarketItem, error)
}

// PurchaseStore runs purchases and seeding.
type PurchaseStore interface {
	Purchase(ctx context.Context, accountID, productID uuid.UUID) (*store.PurchaseResult, error)
	Seed(ctx context.Context) ([]store.Account, []store.Product, error)
}

// Database exposes connection health and the operator reset.
type Database interface {
	State() database.State
	Reset() bool
}

// CacheFlusher empties the response cache.
type CacheFlusher interface {
	Flush(ctx context.Context) error
}

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CooldownSource reports the shared upstream cooldown.
type CooldownSource interface {
	GetState(ctx context.Context) (*ratelimit.CooldownState, error)
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	Pricing  PricingService
	Store    PurchaseStore
	Database Database
	Cache    CacheFlusher
	Redis    Pinger
	Defaults pricing.Defaults

	// Cooldown is optional; when set, 503 responses carry Retry-After.
	Cooldown CooldownSource
}

// Handler serves the gateway endpoints.
type Handler struct {
	deps   Deps
	logger zerolog.Logger
}

// NewHandler creates a handler. Every dependency is required.
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	if deps.Pricing == nil || deps.Store == nil || deps.Database == nil || deps.Cache == nil || deps.Redis == nil {
		panic("api: missing handler dependency")
	}
	return &Handler{deps: deps, logger: logger}
}

func (h *Handler) log(r *http.Request) zerolog.Logger {
	return logging.FromContext(r.Context(), h.logger)
}

// GetItems handles GET /items.
func (h *Handler) GetItems(w http.ResponseWriter, r *http.Request) {
	q, err := pricing.ParseQuery(r.URL.Query(), h.deps.Defaults)
	if err != nil {
		var ve *pricing.ValidationError
		if errors.As(err, &ve) {
			writeValidationError(w, "query", ve.Fields)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	items, err := h.deps.Pricing.GetMarketItems(r.Context(), q)
	if err != nil {
		h.writePricingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type upstreamErrorBody struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
}

func (h *Handler) writePricingError(w http.ResponseWriter, r *http.Request, err error) {
	logger := h.log(r)

	switch {
	case errors.Is(err, pricing.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "Invalid request")
	case errors.Is(err, context.Canceled):
		// Client went away.
		w.WriteHeader(499)
	case errors.Is(err, fetch.ErrCooldownActive) || fetch.StatusCode(err) == http.StatusTooManyRequests:
		logger.Warn().Err(err).Msg("Upstream rate limited")
		if secs := h.retryAfterSeconds(r.Context()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, http.StatusServiceUnavailable, "Upstream rate limited")
	case errors.Is(err, fetch.ErrUpstreamFetchFailed), errors.Is(err, fetch.ErrRetryExhausted):
		logger.Error().Err(err).Msg("Upstream fetch failed")
		writeJSON(w, http.StatusBadGateway, upstreamErrorBody{
			Error:          "Failed to fetch items from upstream",
			UpstreamStatus: fetch.StatusCode(err),
		})
	default:
		logger.Error().Err(err).Msg("Item lookup failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) retryAfterSeconds(ctx context.Context) int {
	if h.deps.Cooldown == nil {
		return 0
	}
	state, err := h.deps.Cooldown.GetState(ctx)
	if err != nil || !state.CoolingDown {
		return 0
	}
	return int(math.Ceil(state.Remaining().Seconds()))
}

type purchaseRequest struct {
	UserID    string `json:"userId"`
	ProductID string `json:"productId"`
}

type purchaseData struct {
	UserID    uuid.UUID `json:"userId"`
	ProductID uuid.UUID `json:"productId"`
	Balance   string    `json:"balance"`
}

type purchaseResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    purchaseData `json:"data"`
}

type outcomeErrorBody struct {
	Error   string `json:"error"`
	Outcome string `json:"outcome"`
}

// parseUUIDField validates one UUID body field, recording a message on failure.
func parseUUIDField(value, field string, fields map[string]string) uuid.UUID {
	if value == "" {
		fields[field] = "Required"
		return uuid.Nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		fields[field] = "Invalid uuid"
		return uuid.Nil
	}
	return id
}

// Purchase handles POST /purchase.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)

	// Step 1: Decode and validate the body
	var req purchaseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeValidationError(w, "body", map[string]string{"_errors": "Invalid JSON body"})
		return
	}

	fields := map[string]string{}
	accountID := parseUUIDField(req.UserID, "userId", fields)
	productID := parseUUIDField(req.ProductID, "productId", fields)
	if len(fields) > 0 {
		writeValidationError(w, "body", fields)
		return
	}

	// Step 2: Run the conditional purchase
	result, err := h.deps.Store.Purchase(r.Context(), accountID, productID)

	// Step 3: Map the outcome
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, purchaseResponse{
			Success: true,
			Message: "Purchase completed",
			Data: purchaseData{
				UserID:    result.AccountID,
				ProductID: result.ProductID,
				Balance:   result.Balance.StringFixed(2),
			},
		})
	case errors.Is(err, store.ErrInsufficientFundsOrInvalidReference):
		writeError(w, http.StatusBadRequest, "Insufficient balance or invalid user/product")
	case errors.Is(err, database.ErrNotConnected):
		logger.Warn().Err(err).Msg("Purchase rejected - database not connected")
		writeError(w, http.StatusServiceUnavailable, "Database unavailable")
	case store.IsOutcomeUnknown(err):
		logger.Error().Err(err).
			Str("account_id", accountID.String()).
			Str("product_id", productID.String()).
			Msg("Purchase timed out - outcome unknown")
		writeJSON(w, http.StatusInternalServerError, outcomeErrorBody{
			Error:   "Transaction failed",
			Outcome: "unknown",
		})
	default:
		logger.Error().Err(err).Msg("Purchase failed")
		writeError(w, http.StatusInternalServerError, "Transaction failed")
	}
}

type seedAccount struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Balance string    `json:"balance"`
}

type seedProduct struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Price string    `json:"price"`
}

type seedResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Users    []seedAccount `json:"users"`
	Products []seedProduct `json:"products"`
}

// Seed handles POST /seed.
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	accounts, products, err := h.deps.Store.Seed(r.Context())
	if err != nil {
		logger := h.log(r)
		logger.Error().Err(err).Msg("Seeding failed")
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrNotConnected) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "Seeding failed")
		return
	}

	resp := seedResponse{
		Success:  true,
		Message:  "Database seeded successfully",
		Users:    make([]seedAccount, 0, len(accounts)),
		Products: make([]seedProduct, 0, len(products)),
	}
	for _, a := range accounts {
		resp.Users = append(resp.Users, seedAccount{ID: a.ID, Name: a.Name, Balance: a.Balance.StringFixed(2)})
	}
	for _, p := range products {
		resp.Products = append(resp.Products, seedProduct{ID: p.ID, Name: p.Name, Price: p.Price.StringFixed(2)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health. It only reports that the process serves.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type readinessBody struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

// Ready handles GET /ready: the database must be Ready and Redis reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	dbState := h.deps.Database.State()

	cacheStatus := "ok"
	if err := h.deps.Redis.Ping(r.Context()); err != nil {
		cacheStatus = "unavailable"
	}

	if dbState != database.StateReady || cacheStatus != "ok" {
		writeJSON(w, http.StatusServiceUnavailable, readinessBody{
			Status:   "not ready",
			Database: dbState.String(),
			Cache:    cacheStatus,
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type adminResponse struct {
	Success bool   `json:"success"`
	State   string `json:"state,omitempty"`
}

type adminErrorBody struct {
	Error string `json:"error"`
	State string `json:"state"`
}

// FlushCache handles POST /admin/cache/flush.
func (h *Handler) FlushCache(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Cache.Flush(r.Context()); err != nil {
		logger := h.log(r)
		logger.Warn().Err(err).Msg("Cache flush failed")
		writeError(w, http.StatusServiceUnavailable, "Cache unavailable")
		return
	}
	logger := h.log(r)
	logger.Info().Msg("Cache flushed")
	writeJSON(w, http.StatusOK, adminResponse{Success: true})
}

// ReconnectDatabase handles POST /admin/db/reconnect. It only acts when the
// connection manager gave up.
func (h *Handler) ReconnectDatabase(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Database.Reset() {
		writeJSON(w, http.StatusConflict, adminErrorBody{
			Error: "Database is not in failed state",
			State: h.deps.Database.State().String(),
		})
		return
	}
	logger := h.log(r)
	logger.Info().Msg("Database reconnect requested")
	writeJSON(w, http.StatusAccepted, adminResponse{Success: true, State: database.StateConnecting.String()})
}
