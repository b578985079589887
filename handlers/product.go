package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"commerce-backend/internal/products"
	"commerce-backend/pkg/ctxmanage"
	"commerce-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
)

func (h *Handler) CreateProduct(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	if c.Request.ContentLength > 5*1024 {
		slog.Error("request body limit breached", slog.String("TRACE ID", traceId), slog.Int64("Size Received", c.Request.ContentLength))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Request body too large."})
		return
	}

	var newProduct products.NewProduct
	if err := c.ShouldBindJSON(&newProduct); err != nil {
		slog.Error("json validation error", slog.String("TRACE ID", traceId), slog.String("Error", err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}

	if err := h.validate.Struct(newProduct); err != nil {
		slog.Error("validation failed", slog.String("TRACE ID", traceId), slog.String("Error", err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name is required, price and stock must not be negative"})
		return
	}

	insertedProduct, err := h.pConf.InsertProduct(c.Request.Context(), newProduct)
	if err != nil {
		abortWithError(c, traceId, "error in inserting the product", err)
		return
	}

	slog.Info("product created", slog.String(logkey.TraceID, traceId), slog.Int64(logkey.ProductID, insertedProduct.ID))
	c.JSON(http.StatusCreated, insertedProduct)
}

func (h *Handler) GetProduct(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	productID, err := pathID(c, "id")
	if err != nil {
		abortWithError(c, traceId, "invalid product id", err)
		return
	}

	product, err := h.pConf.GetProductByID(c.Request.Context(), productID)
	if err != nil {
		abortWithError(c, traceId, "error in retrieving product", err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) ListProducts(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	limit := c.DefaultQuery("limit", "10")
	offset := c.DefaultQuery("offset", "0")
	sort := c.DefaultQuery("sort", "name")
	order := c.DefaultQuery("order", "asc")

	limitInt, err := strconv.Atoi(limit)
	if err != nil || limitInt <= 0 {
		slog.Error("invalid limit parameter", slog.String("TRACE ID", traceId))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return
	}
	offsetInt, err := strconv.Atoi(offset)
	if err != nil || offsetInt < 0 {
		slog.Error("invalid offset parameter", slog.String("TRACE ID", traceId))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid offset parameter"})
		return
	}

	allProducts, err := h.pConf.ListProducts(c.Request.Context(), limitInt, offsetInt, sort, order)
	if err != nil {
		abortWithError(c, traceId, "error in fetching products", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": allProducts})
}

func (h *Handler) UpdateProduct(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	productID, err := pathID(c, "id")
	if err != nil {
		abortWithError(c, traceId, "invalid product id", err)
		return
	}

	var update products.UpdateProduct
	if err := c.ShouldBindJSON(&update); err != nil {
		slog.Error("json validation error", slog.String("TRACE ID", traceId), slog.String("Error", err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	if err := h.validate.Struct(update); err != nil {
		slog.Error("validation failed", slog.String("TRACE ID", traceId), slog.String("Error", err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "price and stock must not be negative"})
		return
	}

	product, err := h.pConf.UpdateProductInDB(c.Request.Context(), productID, update)
	if err != nil {
		abortWithError(c, traceId, "error in updating the product", err)
		return
	}

	slog.Info("product updated successfully", slog.String("TRACE ID", traceId), slog.Int64(logkey.ProductID, productID))
	c.JSON(http.StatusOK, gin.H{"message": "Product updated successfully", "product": product})
}

func (h *Handler) DeleteProduct(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	productID, err := pathID(c, "id")
	if err != nil {
		abortWithError(c, traceId, "invalid product id", err)
		return
	}

	if err := h.pConf.DeleteProductFromDB(c.Request.Context(), productID); err != nil {
		abortWithError(c, traceId, "error in deleting the product", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product successfully deleted"})
}

func (h *Handler) GetProductStock(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	productID, err := pathID(c, "id")
	if err != nil {
		abortWithError(c, traceId, "invalid product id", err)
		return
	}

	stock, err := h.pConf.GetProductStock(c.Request.Context(), productID)
	if err != nil {
		abortWithError(c, traceId, "error in fetching product stock", err)
		return
	}

	slog.Info("successfully retrieved product stock", slog.String("TRACE ID", traceId),
		slog.Int64(logkey.ProductID, productID), slog.Int(logkey.Stock, stock))
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "stock": stock})
}
