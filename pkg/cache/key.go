package cache

import (
	"net/url"
	"strings"
)

// KeyNamespace prefixes every key written by the gateway.
const KeyNamespace = "gateway"

// Param is one named input of a cached computation.
type Param struct {
	Name  string
	Value string
}

// Key identifies a cached value by its producer and the exact parameter
// tuple that determines the result.
type Key struct {
	// Producer names the computation (e.g., "skinport_items").
	Producer string

	// Params are rendered in the order given. Producers must always pass
	// them in the same order.
	Params []Param
}

// NewKey builds a Key from alternating name/value pairs. A trailing name
// without a value is ignored.
func NewKey(producer string, pairs ...string) Key {
	k := Key{Producer: producer}
	for i := 0; i+1 < len(pairs); i += 2 {
		k.Params = append(k.Params, Param{Name: pairs[i], Value: pairs[i+1]})
	}
	return k
}

// String generates the key string.
// Format: gateway:producer:name1=value1:name2=value2
//
// The producer and every name and value are query-escaped so ':' or '='
// inside any of them cannot make two different tuples render the same key.
//
// Example:
//
//	gateway:skinport_items:app_id=730:currency=EUR:tradable=0
func (k Key) String() string {
	parts := make([]string, 0, len(k.Params)+2)
	parts = append(parts, KeyNamespace, url.QueryEscape(k.Producer))

	for _, p := range k.Params {
		parts = append(parts, url.QueryEscape(p.Name)+"="+url.QueryEscape(p.Value))
	}

	return strings.Join(parts, ":")
}
