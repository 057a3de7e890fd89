package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-ledger/internal/apperr"
	"github.com/imrishuroy/storefront-ledger/internal/auth"
	"github.com/imrishuroy/storefront-ledger/internal/catalog"
	"github.com/imrishuroy/storefront-ledger/internal/designs"
	"github.com/imrishuroy/storefront-ledger/internal/inventory"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
	"github.com/imrishuroy/storefront-ledger/internal/orders"
)

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Orders    *orders.Service
	Catalog   *catalog.Store
	Ledger    *inventory.Ledger
	Designs   *designs.Service
	Validator *validatorv10.Validate

	// ConflictRetries bounds how often a checkout that lost the order
	// number race is retried before the client sees 409.
	ConflictRetries   int
	LowStockThreshold int64
}

// RegisterRoutes registers every API route on r. Routes under /admin
// require an admin principal.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	admin := r.Group("/admin", auth.RequireAdmin())

	registerOrdersRoutes(r, admin, cfg)
	registerProductsRoutes(r, admin, cfg)
	registerDesignsRoutes(r, admin, cfg)
}

func principal(c *gin.Context) auth.Principal {
	p, _ := auth.FromContext(c.Request.Context())
	return p
}

func statusFor(k apperr.Kind) (int, string) {
	switch k {
	case apperr.KindValidationFailed:
		return http.StatusBadRequest, "validation_failed"
	case apperr.KindInsufficientStock:
		return http.StatusConflict, "insufficient_stock"
	case apperr.KindProductNotFound:
		return http.StatusNotFound, "product_not_found"
	case apperr.KindOrderNotFound:
		return http.StatusNotFound, "order_not_found"
	case apperr.KindDesignNotFound:
		return http.StatusNotFound, "design_not_found"
	case apperr.KindInvalidTransition:
		return http.StatusConflict, "invalid_transition"
	case apperr.KindConflict:
		return http.StatusConflict, "conflict"
	case apperr.KindDuplicate:
		return http.StatusUnprocessableEntity, "idempotency_key_reused"
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout, "timeout"
	case apperr.KindUnauthorized:
		return http.StatusForbidden, "forbidden"
	case apperr.KindUpstreamFailed:
		return http.StatusBadGateway, "upstream_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError renders err by its kind. Server-side failures are logged and
// their detail is not echoed to the client.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, code := statusFor(kind)

	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request.Context()).WithError(err).WithField("kind", kind.String()).Error("request failed")
	}
	switch {
	case kind == apperr.KindValidationFailed:
		c.JSON(status, gin.H{"error": code, "fields": apperr.FieldsOf(err)})
	case status == http.StatusInternalServerError:
		c.JSON(status, gin.H{"error": code})
	default:
		c.JSON(status, gin.H{"error": code, "msg": err.Error()})
	}
}
