package cache

import (
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "producer only",
			key:  Key{Producer: "accounts"},
			want: "gateway:accounts",
		},
		{
			name: "skinport items defaults",
			key:  NewKey("skinport_items", "app_id", "730", "currency", "EUR", "tradable", "0"),
			want: "gateway:skinport_items:app_id=730:currency=EUR:tradable=0",
		},
		{
			name: "params keep given order",
			key:  NewKey("skinport_items", "tradable", "1", "app_id", "252490"),
			want: "gateway:skinport_items:tradable=1:app_id=252490",
		},
		{
			name: "separator inside value is escaped",
			key:  NewKey("search", "q", "a:b=c"),
			want: "gateway:search:q=a%3Ab%3Dc",
		},
		{
			name: "separator inside producer is escaped",
			key:  NewKey("a:b", "c", "1"),
			want: "gateway:a%3Ab:c=1",
		},
		{
			name: "trailing name without value ignored",
			key:  NewKey("skinport_items", "app_id", "730", "currency"),
			want: "gateway:skinport_items:app_id=730",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey_DistinctTuplesDoNotCollide(t *testing.T) {
	keys := []Key{
		NewKey("skinport_items", "app_id", "730", "currency", "EUR", "tradable", "0"),
		NewKey("skinport_items", "app_id", "730", "currency", "EUR", "tradable", "1"),
		NewKey("skinport_items", "app_id", "730", "currency", "USD", "tradable", "0"),
		NewKey("skinport_items", "app_id", "440", "currency", "EUR", "tradable", "0"),
		NewKey("other", "app_id", "730", "currency", "EUR", "tradable", "0"),
		NewKey("x", "a", "1:b=2"),
		NewKey("x", "a", "1", "b", "2"),
		NewKey("a:b=1"),
		NewKey("a", "b", "1"),
	}

	seen := make(map[string]int)
	for i, k := range keys {
		s := k.String()
		if j, dup := seen[s]; dup {
			t.Errorf("keys %d and %d both render %q", j, i, s)
		}
		seen[s] = i
	}
}

func TestKey_Deterministic(t *testing.T) {
	a := NewKey("skinport_items", "app_id", "730", "currency", "EUR", "tradable", "0")
	b := NewKey("skinport_items", "app_id", "730", "currency", "EUR", "tradable", "0")

	if a.String() != b.String() {
		t.Errorf("String() not deterministic: %q vs %q", a.String(), b.String())
	}
}
