package pricing

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/market-gateway/pkg/cache"
)

// Default query values.
const (
	DefaultAppID    = 730 // Counter-Strike 2
	DefaultCurrency = "EUR"
)

// SupportedCurrencies lists the currencies the upstream accepts.
var SupportedCurrencies = []string{
	"AUD", "BRL", "CAD", "CHF", "CNY", "CZK", "DKK", "EUR",
	"GBP", "HRK", "NOK", "PLN", "RUB", "SEK", "TRY", "USD",
}

// ErrInvalidQuery matches every *ValidationError through errors.Is.
var ErrInvalidQuery = errors.New("invalid query")

// ValidationError maps query parameter names to problems.
type ValidationError struct {
	Fields map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid query: " + strings.Join(parts, "; ")
}

// Is reports whether target is ErrInvalidQuery.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidQuery
}

// Query selects an item list.
type Query struct {
	AppID    int
	Currency string
	// Tradable is 1 to list only tradable items, 0 for all.
	Tradable int
}

// Defaults fill parameters the caller omitted.
type Defaults struct {
	AppID    int
	Currency string
}

// ParseQuery reads appId, currency and tradable from values.
// Omitted parameters take their default; present ones must be valid.
func ParseQuery(values url.Values, defaults Defaults) (Query, error) {
	if defaults.AppID <= 0 {
		defaults.AppID = DefaultAppID
	}
	if defaults.Currency == "" {
		defaults.Currency = DefaultCurrency
	}

	q := Query{AppID: defaults.AppID, Currency: defaults.Currency}
	fields := make(map[string]string)

	if raw := values.Get("appId"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fields["appId"] = "Expected positive integer, received " + strconv.Quote(raw)
		} else {
			q.AppID = n
		}
	}

	if raw := values.Get("currency"); raw != "" {
		if !isSupportedCurrency(raw) {
			fields["currency"] = fmt.Sprintf("Invalid enum value. Expected %s, received %q",
				strings.Join(SupportedCurrencies, " | "), raw)
		} else {
			q.Currency = raw
		}
	}

	switch raw := values.Get("tradable"); raw {
	case "", "0":
	case "1":
		q.Tradable = 1
	default:
		fields["tradable"] = "Expected 0 or 1, received " + strconv.Quote(raw)
	}

	if len(fields) > 0 {
		return Query{}, &ValidationError{Fields: fields}
	}
	return q, nil
}

// Validate checks an already-built query.
func (q Query) Validate() error {
	fields := make(map[string]string)
	if q.AppID <= 0 {
		fields["appId"] = "Expected positive integer"
	}
	if !isSupportedCurrency(q.Currency) {
		fields["currency"] = "Unsupported currency " + strconv.Quote(q.Currency)
	}
	if q.Tradable != 0 && q.Tradable != 1 {
		fields["tradable"] = "Expected 0 or 1"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Key returns the cache key for the query's item list.
func (q Query) Key() cache.Key {
	return cache.NewKey("skinport_items",
		"app_id", strconv.Itoa(q.AppID),
		"currency", q.Currency,
		"tradable", strconv.Itoa(q.Tradable),
	)
}

// params returns the upstream query parameters.
func (q Query) params() url.Values {
	return url.Values{
		"app_id":   {strconv.Itoa(q.AppID)},
		"currency": {q.Currency},
		"tradable": {strconv.Itoa(q.Tradable)},
	}
}

func isSupportedCurrency(c string) bool {
	for _, s := range SupportedCurrencies {
		if s == c {
			return true
		}
	}
	return false
}
