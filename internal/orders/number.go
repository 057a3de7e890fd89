package orders

import (
	"fmt"
	"strconv"
	"strings"
)

// OrderNumberPrefix precedes the numeric part of every order number.
const OrderNumberPrefix = "ORD-"

// FormatOrderNumber renders n as "ORD-<n>".
func FormatOrderNumber(n int64) string {
	return OrderNumberPrefix + strconv.FormatInt(n, 10)
}

// ParseOrderNumber returns the numeric suffix of an "ORD-<n>" order number.
func ParseOrderNumber(s string) (int64, error) {
	digits, ok := strings.CutPrefix(s, OrderNumberPrefix)
	if !ok || digits == "" {
		return 0, fmt.Errorf("order number %q: missing %s prefix", s, OrderNumberPrefix)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("order number %q: non-numeric suffix", s)
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("order number %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("order number %q: must be positive", s)
	}
	return n, nil
}

func counterKey(storeID string) string { return "order#" + storeID }
