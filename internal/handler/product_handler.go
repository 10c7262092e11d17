package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/appfuel/storebridge/internal/cqrs"
	"github.com/appfuel/storebridge/internal/middleware"
	"github.com/appfuel/storebridge/internal/models"
)

// ProductQuerier defines the read-side operations used by ProductHandler.
type ProductQuerier interface {
	ListProducts(context.Context, cqrs.ListProductsQuery) (models.ProductsView, error)
}

type ProductHandler struct {
	queries ProductQuerier
}

func NewProductHandler(queries ProductQuerier) *ProductHandler {
	return &ProductHandler{queries: queries}
}

// ListProducts serves the catalog. An optional comma-separated ids parameter
// narrows the result and reports identifiers with no active product.
func (h *ProductHandler) ListProducts(c *gin.Context) {
	var ids []string
	if raw := c.Query("ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}

	view, err := h.queries.ListProducts(c.Request.Context(), cqrs.ListProductsQuery{IDs: ids})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to list products")
		return
	}

	if view.Products == nil {
		view.Products = []models.Product{}
	}
	c.JSON(http.StatusOK, view)
}
