// Package store implements the account, product and purchase persistence
// on top of the database executor.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/market-gateway/pkg/database"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for purchases.
var (
	purchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_purchases_total",
		Help: "Total purchase attempts by outcome",
	}, []string{"outcome"}) // "success", "rejected", "timeout", "failed", "not_connected"

	purchaseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_purchase_duration_seconds",
		Help:    "Purchase transaction duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// Querier runs one statement. *database.Executor implements it.
type Querier interface {
	Query(ctx context.Context, stmt string, args ...any) (*database.Rows, error)
}

// Store runs the domain statements.
type Store struct {
	db     Querier
	logger zerolog.Logger
}

// New creates a store on db.
func New(db Querier, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// purchaseSQL debits the account and records the purchase in one
// statement. The conditional UPDATE re-checks the balance against the
// latest row version, so concurrent purchases can never overdraw it.
// A missing account or product, or a balance below the price, makes the
// UPDATE match nothing and the statement return zero rows.
const purchaseSQL = `
WITH product AS (
	SELECT price FROM products WHERE id = $2
), updated AS (
	UPDATE accounts
	SET balance = balance - (SELECT price FROM product)
	WHERE id = $1 AND balance >= (SELECT price FROM product)
	RETURNING balance
)
INSERT INTO purchases (account_id, product_id)
SELECT $1, $2 FROM updated
RETURNING id::text, created_at, (SELECT balance FROM updated)::text`

// Purchase atomically debits the product price from the account and
// records the purchase. It returns ErrInsufficientFundsOrInvalidReference
// when nothing changed. Executor errors are returned unchanged; a
// *database.QueryError of kind timeout means the outcome is unknown.
func (s *Store) Purchase(ctx context.Context, accountID, productID uuid.UUID) (*PurchaseResult, error) {
	start := time.Now()
	defer func() {
		purchaseDuration.Observe(time.Since(start).Seconds())
	}()

	logger := s.logger.With().
		Str("account_id", accountID.String()).
		Str("product_id", productID.String()).
		Logger()

	rows, err := s.db.Query(ctx, purchaseSQL, accountID.String(), productID.String())
	if err != nil {
		outcome := "failed"
		switch database.KindOf(err) {
		case database.KindTimeout:
			outcome = "timeout"
		case database.KindNotConnected:
			outcome = "not_connected"
		}
		purchasesTotal.WithLabelValues(outcome).Inc()
		logger.Error().Err(err).Str("outcome", outcome).Msg("Purchase transaction failed")
		return nil, err
	}

	if rows.Len() == 0 {
		purchasesTotal.WithLabelValues("rejected").Inc()
		logger.Warn().Msg("Purchase rejected")
		return nil, ErrInsufficientFundsOrInvalidReference
	}

	result, err := scanPurchase(rows.Values[0])
	if err != nil {
		// The debit is committed; only the result could not be read
		purchasesTotal.WithLabelValues("success").Inc()
		logger.Error().Err(err).Msg("Purchase committed but result unreadable")
		return nil, fmt.Errorf("read purchase result: %w", err)
	}
	result.AccountID = accountID
	result.ProductID = productID

	purchasesTotal.WithLabelValues("success").Inc()
	logger.Info().
		Str("purchase_id", result.PurchaseID.String()).
		Str("balance", result.Balance.StringFixed(2)).
		Msg("Purchase completed")

	return result, nil
}

func scanPurchase(row []any) (*PurchaseResult, error) {
	if len(row) != 3 {
		return nil, fmt.Errorf("expected 3 columns, got %d", len(row))
	}
	id, err := asUUID(row[0])
	if err != nil {
		return nil, fmt.Errorf("purchase id: %w", err)
	}
	createdAt, err := asTime(row[1])
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	balance, err := asDecimal(row[2])
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return &PurchaseResult{
		PurchaseID: id,
		Balance:    balance,
		CreatedAt:  createdAt,
	}, nil
}

// IsOutcomeUnknown reports whether err leaves it open if the purchase
// was committed.
func IsOutcomeUnknown(err error) bool {
	var qe *database.QueryError
	return errors.As(err, &qe) && qe.OutcomeUnknown()
}
