package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"commerce-backend/internal/invoices"
	"commerce-backend/internal/stores/kafka"
	"commerce-backend/pkg/ctxmanage"
	"commerce-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
)

// Checkout converts the client's cart into an invoice and closes the cart.
func (h *Handler) Checkout(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	clientID, err := pathID(c, "clientID")
	if err != nil {
		abortWithError(c, traceId, "invalid client id", err)
		return
	}

	invoice, err := h.iConf.CreateForClient(c.Request.Context(), clientID)
	if err != nil {
		abortWithError(c, traceId, "error creating invoice", err)
		return
	}

	slog.Info("invoice created", slog.String(logkey.TraceID, traceId),
		slog.Int64(logkey.ClientID, clientID), slog.Int64(logkey.InvoiceID, invoice.InvoiceID))

	if h.k != nil {
		// Publish outside the request path so a slow broker cannot fail
		// a committed checkout.
		go func(inv invoices.Invoice) {
			jsonData, err := json.Marshal(kafka.InvoiceCreatedEvent{
				InvoiceID: inv.InvoiceID,
				ClientID:  inv.ClientID,
				Total:     inv.Total,
				CreatedAt: inv.CreatedAt,
			})
			if err != nil {
				slog.Error("failed to marshal invoice event", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
				return
			}
			key := []byte(strconv.FormatInt(inv.InvoiceID, 10))
			if err := h.k.ProduceMessage(kafka.TopicInvoiceCreated, key, jsonData); err != nil {
				slog.Error("failed to produce invoice event", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
				return
			}
			slog.Info("invoice event produced", slog.String(logkey.TraceID, traceId), slog.Int64(logkey.InvoiceID, inv.InvoiceID))
		}(invoice)
	}

	c.JSON(http.StatusCreated, invoice)
}

func (h *Handler) ListInvoices(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	allInvoices, err := h.iConf.List(c.Request.Context())
	if err != nil {
		abortWithError(c, traceId, "error fetching invoices", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": allInvoices})
}

func (h *Handler) GetInvoice(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	invoiceID, err := pathID(c, "id")
	if err != nil {
		abortWithError(c, traceId, "invalid invoice id", err)
		return
	}

	invoice, err := h.iConf.GetByID(c.Request.Context(), invoiceID)
	if err != nil {
		abortWithError(c, traceId, "error fetching invoice", err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (h *Handler) GetInvoicesByClient(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	clientID, err := pathID(c, "clientID")
	if err != nil {
		abortWithError(c, traceId, "invalid client id", err)
		return
	}

	clientInvoices, err := h.iConf.ByClient(c.Request.Context(), clientID)
	if err != nil {
		abortWithError(c, traceId, "error fetching invoices", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": clientInvoices})
}

func (h *Handler) GetLatestInvoiceByClient(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	clientID, err := pathID(c, "clientID")
	if err != nil {
		abortWithError(c, traceId, "invalid client id", err)
		return
	}

	invoice, err := h.iConf.LatestByClient(c.Request.Context(), clientID)
	if err != nil {
		abortWithError(c, traceId, "error fetching latest invoice", err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (h *Handler) UpdateInvoice(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	clientID, err := pathID(c, "clientID")
	if err != nil {
		abortWithError(c, traceId, "invalid client id", err)
		return
	}

	var patch invoices.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	invoice, err := h.iConf.Update(c.Request.Context(), clientID, patch)
	if err != nil {
		abortWithError(c, traceId, "error updating invoice", err)
		return
	}

	slog.Info("invoice updated", slog.String(logkey.TraceID, traceId), slog.Int64(logkey.InvoiceID, invoice.InvoiceID))
	c.JSON(http.StatusOK, invoice)
}

func (h *Handler) DeleteInvoice(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	invoiceID, err := pathID(c, "id")
	if err != nil {
		abortWithError(c, traceId, "invalid invoice id", err)
		return
	}

	if err := h.iConf.Delete(c.Request.Context(), invoiceID); err != nil {
		abortWithError(c, traceId, "error deleting invoice", err)
		return
	}

	slog.Info("invoice deleted", slog.String(logkey.TraceID, traceId), slog.Int64(logkey.InvoiceID, invoiceID))
	c.JSON(http.StatusOK, gin.H{"message": "Invoice deleted successfully"})
}
