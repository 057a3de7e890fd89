package validation

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their json names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterStructValidation(checkoutStructValidation, CheckoutRequest{})
	v.RegisterStructValidation(movementStructValidation, MovementRequest{})

	return v
}

// checkoutStructValidation rejects a claimed total below the sum of the
// lines (tax is never negative) and line subtotals that overflow int64.
// The exact total, tax included, is checked by the order service.
func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CheckoutRequest)

	var sum int64
	for i, it := range req.Items {
		if it.Quantity <= 0 || it.UnitPrice <= 0 {
			continue // reported by field tags
		}
		if it.UnitPrice > math.MaxInt64/it.Quantity {
			sl.ReportError(it.UnitPrice, fmt.Sprintf("items[%d].unit_price", i), "UnitPrice", "line_overflow", "")
			return
		}
		line := it.Quantity * it.UnitPrice
		if sum > math.MaxInt64-line {
			sl.ReportError(req.Total, "total", "Total", "total_overflow", "")
			return
		}
		sum += line
	}
	if req.Total > 0 && req.Total < sum {
		sl.ReportError(req.Total, "total", "Total", "total_covers_items", fmt.Sprintf("%d", sum))
	}
}

// movementStructValidation enforces the delta sign each kind allows.
func movementStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(MovementRequest)

	switch {
	case req.Kind == "STOCK_IN" && req.Delta < 0:
		sl.ReportError(req.Delta, "delta", "Delta", "positive_for_stock_in", "")
	case req.Kind == "STOCK_OUT" && req.Delta > 0:
		sl.ReportError(req.Delta, "delta", "Delta", "negative_for_stock_out", "")
	}
}

// Fields flattens validator errors into field -> message.
func Fields(err error) map[string]string {
	return validationErrorsToMap(err)
}
