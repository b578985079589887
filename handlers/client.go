package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"commerce-backend/internal/clients"
	"commerce-backend/pkg/ctxmanage"
	"commerce-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func (h *Handler) CreateClient(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	if c.Request.ContentLength > 5*1024 {
		slog.Error("request body limit breached", slog.String("TRACE ID", traceId), slog.Int64("Size Received", c.Request.ContentLength))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Request body too large."})
		return
	}

	var newClient clients.NewClient
	if err := c.ShouldBindJSON(&newClient); err != nil {
		slog.Error("json validation error", slog.String("TRACE ID", traceId), slog.String("Error", err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}

	if err := h.validate.Struct(newClient); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			for _, vErr := range vErrs {
				switch vErr.Tag() {
				case "required":
					slog.Error("validation failed", slog.String("TRACE ID", traceId), slog.String("Error", err.Error()))
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": vErr.Field() + " value missing"})
					return
				case "min":
					slog.Error("validation failed", slog.String("TRACE ID", traceId), slog.String("Error", err.Error()))
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": vErr.Field() + " value is less than " + vErr.Param()})
					return
				default:
					slog.Error("validation failed", slog.String("TRACE ID", traceId), slog.String("Error", err.Error()))
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
					return
				}
			}
		}
		slog.Error("validation failed", slog.String("TRACE ID", traceId), slog.String("ERROR", err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}

	client, err := h.clConf.InsertClient(c.Request.Context(), newClient)
	if err != nil {
		abortWithError(c, traceId, "error in inserting the client", err)
		return
	}

	slog.Info("client created", slog.String(logkey.TraceID, traceId), slog.Int64(logkey.ClientID, client.ID))
	c.JSON(http.StatusCreated, client)
}

func (h *Handler) GetClient(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	clientID, err := pathID(c, "id")
	if err != nil {
		abortWithError(c, traceId, "invalid client id", err)
		return
	}

	client, err := h.clConf.GetClientByID(c.Request.Context(), clientID)
	if err != nil {
		abortWithError(c, traceId, "error in retrieving client", err)
		return
	}
	c.JSON(http.StatusOK, client)
}

func (h *Handler) ListClients(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	allClients, err := h.clConf.ListClients(c.Request.Context())
	if err != nil {
		abortWithError(c, traceId, "error in fetching clients", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": allClients})
}

func (h *Handler) DeleteClient(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	clientID, err := pathID(c, "id")
	if err != nil {
		abortWithError(c, traceId, "invalid client id", err)
		return
	}

	if err := h.clConf.DeleteClient(c.Request.Context(), clientID); err != nil {
		abortWithError(c, traceId, "error in deleting the client", err)
		return
	}

	slog.Info("client deleted", slog.String(logkey.TraceID, traceId), slog.Int64(logkey.ClientID, clientID))
	c.JSON(http.StatusOK, gin.H{"message": "Client successfully deleted"})
}
