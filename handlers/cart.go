package handlers

import (
	"log/slog"
	"net/http"

	"commerce-backend/pkg/ctxmanage"
	"commerce-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
)

type addToCartRequest struct {
	ProductID int64 `json:"product_id" validate:"required,min=1"`
	Quantity  int   `json:"quantity" validate:"required,min=1"`
}

func (h *Handler) CreateCart(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	clientID, err := pathID(c, "clientID")
	if err != nil {
		abortWithError(c, traceId, "invalid client id", err)
		return
	}

	cart, err := h.cConf.CreateCart(c.Request.Context(), clientID)
	if err != nil {
		abortWithError(c, traceId, "error creating cart", err)
		return
	}

	slog.Info("cart created", slog.String(logkey.TraceID, traceId), slog.Int64(logkey.ClientID, clientID))
	c.JSON(http.StatusCreated, cart)
}

func (h *Handler) AddToCart(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	clientID, err := pathID(c, "clientID")
	if err != nil {
		abortWithError(c, traceId, "invalid client id", err)
		return
	}

	var request addToCartRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		slog.Error("invalid request body", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := h.validate.Struct(request); err != nil {
		slog.Error("validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "product_id and quantity must be positive"})
		return
	}

	cart, err := h.cConf.AddProduct(c.Request.Context(), clientID, request.ProductID, request.Quantity)
	if err != nil {
		abortWithError(c, traceId, "error adding product to cart", err)
		return
	}

	slog.Info("product added to cart", slog.String(logkey.TraceID, traceId),
		slog.Int64(logkey.ClientID, clientID), slog.Int64(logkey.ProductID, request.ProductID),
		slog.Int(logkey.Quantity, request.Quantity))
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) RemoveFromCart(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	cartID, err := pathID(c, "clientID")
	if err != nil {
		abortWithError(c, traceId, "invalid cart id", err)
		return
	}
	productID, err := pathID(c, "productID")
	if err != nil {
		abortWithError(c, traceId, "invalid product id", err)
		return
	}

	if err := h.cConf.RemoveProduct(c.Request.Context(), cartID, productID); err != nil {
		abortWithError(c, traceId, "error removing product from cart", err)
		return
	}

	slog.Info("product removed from cart", slog.String(logkey.TraceID, traceId),
		slog.Int64(logkey.CartID, cartID), slog.Int64(logkey.ProductID, productID))
	c.JSON(http.StatusOK, gin.H{"message": "Product removed from cart"})
}

func (h *Handler) DeleteCart(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	cartID, err := pathID(c, "clientID")
	if err != nil {
		abortWithError(c, traceId, "invalid cart id", err)
		return
	}

	if err := h.cConf.DeleteCart(c.Request.Context(), cartID); err != nil {
		abortWithError(c, traceId, "error deleting cart", err)
		return
	}

	slog.Info("cart deleted", slog.String(logkey.TraceID, traceId), slog.Int64(logkey.CartID, cartID))
	c.JSON(http.StatusOK, gin.H{"message": "Cart deleted successfully"})
}

func (h *Handler) GetCart(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	cartID, err := pathID(c, "clientID")
	if err != nil {
		abortWithError(c, traceId, "invalid cart id", err)
		return
	}

	cart, err := h.cConf.GetCart(c.Request.Context(), cartID)
	if err != nil {
		abortWithError(c, traceId, "error fetching cart", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) GetAllCarts(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	allCarts, err := h.cConf.ListCarts(c.Request.Context())
	if err != nil {
		abortWithError(c, traceId, "error fetching carts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"carts": allCarts})
}
