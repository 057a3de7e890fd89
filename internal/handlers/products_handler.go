package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-ledger/internal/inventory"
	"github.com/imrishuroy/storefront-ledger/internal/validation"
)

func registerProductsRoutes(r *gin.Engine, admin *gin.RouterGroup, cfg HandlerConfig) {
	r.GET("/products/:id", func(c *gin.Context) {
		p, err := cfg.Catalog.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	admin.POST("/products", func(c *gin.Context) {
		var req validation.ProductRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}
		p, err := cfg.Catalog.Create(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Location", "/products/"+p.ProductID)
		c.JSON(http.StatusCreated, p)
	})

	admin.POST("/products/:id/movements", func(c *gin.Context) {
		var req validation.MovementRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}
		res, err := cfg.Ledger.RecordMovement(c.Request.Context(), inventory.MovementInput{
			MovementID: req.MovementID,
			ProductID:  c.Param("id"),
			Kind:       inventory.Kind(req.Kind),
			Delta:      req.Delta,
			Reason:     req.Reason,
			ActorID:    principal(c).ID,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, res)
	})

	admin.GET("/products/:id/movements", func(c *gin.Context) {
		moves, err := cfg.Ledger.Movements(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"movements": moves})
	})

	admin.POST("/products/:id/reconcile", func(c *gin.Context) {
		rep, err := cfg.Ledger.Reconcile(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	})

	admin.GET("/low-stock", func(c *gin.Context) {
		threshold := cfg.LowStockThreshold
		if raw := c.Query("threshold"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": gin.H{"threshold": "must be an integer"}})
				return
			}
			threshold = n
		}
		levels, err := cfg.Ledger.LowStock(c.Request.Context(), threshold)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"threshold": threshold, "products": levels})
	})
}
