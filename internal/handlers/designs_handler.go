package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-ledger/internal/auth"
	"github.com/imrishuroy/storefront-ledger/internal/designs"
	"github.com/imrishuroy/storefront-ledger/internal/validation"
)

func registerDesignsRoutes(r *gin.Engine, admin *gin.RouterGroup, cfg HandlerConfig) {
	user := r.Group("/designs", auth.RequirePrincipal())

	user.POST("", func(c *gin.Context) {
		var req validation.DesignRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}
		d, err := cfg.Designs.Generate(c.Request.Context(), principal(c), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Location", "/designs/"+d.DesignID)
		c.JSON(http.StatusCreated, d)
	})

	user.GET("/:id", func(c *gin.Context) {
		d, err := cfg.Designs.Get(c.Request.Context(), principal(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	admin.GET("/designs", func(c *gin.Context) {
		list, err := cfg.Designs.List(c.Request.Context(), designs.Status(c.Query("status")))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"designs": list})
	})

	admin.POST("/designs/:id/review", func(c *gin.Context) {
		var req validation.ReviewRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}
		d, err := cfg.Designs.Review(c.Request.Context(), principal(c), c.Param("id"), designs.Status(req.Decision))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})
}
