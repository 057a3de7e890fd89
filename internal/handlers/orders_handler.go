package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-ledger/internal/apperr"
	"github.com/imrishuroy/storefront-ledger/internal/auth"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
	"github.com/imrishuroy/storefront-ledger/internal/orders"
	"github.com/imrishuroy/storefront-ledger/internal/validation"
)

// IdempotencyKeyHeader must accompany every checkout.
const IdempotencyKeyHeader = "Idempotency-Key"

const defaultListLimit = 50

func registerOrdersRoutes(r *gin.Engine, admin *gin.RouterGroup, cfg HandlerConfig) {
	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		idempKey := c.GetHeader(IdempotencyKeyHeader)
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		var req validation.CheckoutRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		placed, err := placeWithRetry(c, cfg, req, idempKey)
		if apperr.Is(err, apperr.KindDuplicate) {
			// same key seen before: answer with the original order
			placed, err = cfg.Orders.Replay(ctx, req, idempKey)
			if err == nil {
				c.Header("Location", fmt.Sprintf("/orders/%s", placed.OrderID))
				c.JSON(http.StatusOK, placed)
				return
			}
		}
		if err != nil {
			writeError(c, err)
			return
		}

		c.Header("Location", fmt.Sprintf("/orders/%s", placed.OrderID))
		c.JSON(http.StatusCreated, placed)
	})

	r.GET("/orders/:id", auth.RequirePrincipal(), func(c *gin.Context) {
		order, err := cfg.Orders.GetOrder(c.Request.Context(), principal(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})

	admin.GET("/orders", func(c *gin.Context) {
		limit := defaultListLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": gin.H{"limit": "must be a positive integer"}})
				return
			}
			limit = n
		}
		list, err := cfg.Orders.ListOrders(c.Request.Context(), orders.Status(c.Query("status")), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	admin.PATCH("/orders/:id/status", func(c *gin.Context) {
		var req validation.StatusUpdateRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}
		order, err := cfg.Orders.UpdateStatus(c.Request.Context(), c.Param("id"), orders.Status(req.Status))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})
}

// placeWithRetry retries a checkout that lost the order number race. Each
// attempt reads the counter afresh, so numbers stay gapless.
func placeWithRetry(c *gin.Context, cfg HandlerConfig, req validation.CheckoutRequest, idempKey string) (orders.Placed, error) {
	ctx := c.Request.Context()
	for attempt := 0; ; attempt++ {
		placed, err := cfg.Orders.PlaceOrder(ctx, req, idempKey)
		if !apperr.Is(err, apperr.KindConflict) || attempt >= cfg.ConflictRetries {
			return placed, err
		}
		logging.FromContext(ctx).WithFields(log.Fields{
			"attempt":         attempt + 1,
			"idempotency_key": idempKey,
		}).Info("checkout lost a write race, retrying")
	}
}
