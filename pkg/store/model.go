package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInsufficientFundsOrInvalidReference is returned when a purchase
// changed nothing: the balance was too low, or the account or product
// does not exist.
var ErrInsufficientFundsOrInvalidReference = errors.New("insufficient balance or invalid user/product")

// Account holds a spendable balance.
type Account struct {
	ID      uuid.UUID       `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// Product is a purchasable item with a fixed price.
type Product struct {
	ID    uuid.UUID       `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// PurchaseResult describes a completed purchase.
type PurchaseResult struct {
	PurchaseID uuid.UUID
	AccountID  uuid.UUID
	ProductID  uuid.UUID
	// Balance is the account balance after the debit.
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Column values come back from the driver as text casts; the helpers
// below also accept the native Go types so a registered codec works too.

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return "", fmt.Errorf("unexpected column type %T", v)
	}
}

func asUUID(v any) (uuid.UUID, error) {
	switch id := v.(type) {
	case uuid.UUID:
		return id, nil
	case [16]byte:
		return uuid.UUID(id), nil
	}
	s, err := asString(v)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(s)
}

func asDecimal(v any) (decimal.Decimal, error) {
	if d, ok := v.(decimal.Decimal); ok {
		return d, nil
	}
	s, err := asString(v)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	default:
		return time.Time{}, fmt.Errorf("unexpected column type %T", v)
	}
}
