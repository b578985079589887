package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"commerce-backend/internal/auth"
	"commerce-backend/internal/carts"
	"commerce-backend/internal/clients"
	"commerce-backend/internal/invoices"
	"commerce-backend/internal/products"
	"commerce-backend/internal/stores/kafka"
	"commerce-backend/middleware"
	"commerce-backend/pkg/ctxmanage"
	"commerce-backend/pkg/errs"
	"commerce-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	clConf   clients.Conf
	pConf    products.Conf
	cConf    carts.Conf
	iConf    invoices.Conf
	k        *kafka.Conf // nil when event publishing is disabled
	validate *validator.Validate
}

func NewHandler(clConf clients.Conf, pConf products.Conf, cConf carts.Conf, iConf invoices.Conf, k *kafka.Conf) *Handler {
	return &Handler{
		clConf:   clConf,
		pConf:    pConf,
		cConf:    cConf,
		iConf:    iConf,
		k:        k,
		validate: validator.New(),
	}
}

func API(endpointPrefix string, a *auth.Keys, clConf clients.Conf, pConf products.Conf,
	cConf carts.Conf, iConf invoices.Conf, k *kafka.Conf) (*gin.Engine, error) {

	r := gin.New()
	mode := os.Getenv("GIN_MODE")
	if mode == gin.ReleaseMode {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	m, err := middleware.NewMid(a)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth middleware: %w", err)
	}
	h := NewHandler(clConf, pConf, cConf, iConf, k)

	r.Use(middleware.Logger(), gin.Recovery())
	r.GET("/ping", healthCheck)

	v1 := r.Group(endpointPrefix)
	{
		v1.Use(m.Authentication())

		v1.POST("/clients", m.Authorize(h.CreateClient, auth.RoleAdmin))
		v1.GET("/clients", m.Authorize(h.ListClients, auth.RoleAdmin))
		v1.GET("/clients/:id", m.Authorize(h.GetClient, auth.RoleAdmin))
		v1.DELETE("/clients/:id", m.Authorize(h.DeleteClient, auth.RoleAdmin))

		v1.POST("/products", m.Authorize(h.CreateProduct, auth.RoleAdmin))
		v1.GET("/products", m.Authorize(h.ListProducts, auth.RoleAdmin))
		v1.GET("/products/:id", m.Authorize(h.GetProduct, auth.RoleAdmin))
		v1.PUT("/products/:id", m.Authorize(h.UpdateProduct, auth.RoleAdmin))
		v1.DELETE("/products/:id", m.Authorize(h.DeleteProduct, auth.RoleAdmin))
		v1.GET("/products/stock/:id", m.Authorize(h.GetProductStock, auth.RoleAdmin))

		v1.POST("/carts/:clientID", m.Authorize(h.CreateCart, auth.RoleAdmin))
		v1.GET("/carts", m.Authorize(h.GetAllCarts, auth.RoleAdmin))
		v1.GET("/carts/:clientID", m.Authorize(h.GetCart, auth.RoleAdmin))
		v1.POST("/carts/:clientID/items", m.Authorize(h.AddToCart, auth.RoleAdmin))
		v1.DELETE("/carts/:clientID/items/:productID", m.Authorize(h.RemoveFromCart, auth.RoleAdmin))
		v1.DELETE("/carts/:clientID", m.Authorize(h.DeleteCart, auth.RoleAdmin))

		v1.POST("/invoices/clients/:clientID", m.Authorize(h.Checkout, auth.RoleAdmin))
		v1.GET("/invoices", m.Authorize(h.ListInvoices, auth.RoleAdmin))
		v1.GET("/invoices/:id", m.Authorize(h.GetInvoice, auth.RoleAdmin))
		v1.GET("/invoices/clients/:clientID", m.Authorize(h.GetInvoicesByClient, auth.RoleAdmin))
		v1.GET("/invoices/clients/:clientID/latest", m.Authorize(h.GetLatestInvoiceByClient, auth.RoleAdmin))
		v1.PUT("/invoices/clients/:clientID", m.Authorize(h.UpdateInvoice, auth.RoleAdmin))
		v1.DELETE("/invoices/:id", m.Authorize(h.DeleteInvoice, auth.RoleAdmin))
	}

	return r, nil
}

func healthCheck(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	fmt.Println("healthCheck handler ", traceId)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFromError maps the domain error taxonomy onto transport codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal details for infrastructure failures and
// passes the domain message through otherwise.
func errorMessage(err error) string {
	if statusFromError(err) == http.StatusInternalServerError {
		return http.StatusText(http.StatusInternalServerError)
	}
	return err.Error()
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %w", name, errs.ErrInvalidInput)
	}
	return id, nil
}

func abortWithError(c *gin.Context, traceId string, msg string, err error) {
	slog.Error(msg, slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
	c.AbortWithStatusJSON(statusFromError(err), gin.H{"error": errorMessage(err)})
}
