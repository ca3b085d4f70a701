package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/common/middleware"
	"relay-bot-backend/internal/platform/telegram"
)

// Submitter accepts updates for background processing.
type Submitter interface {
	Submit(u *telegram.Update)
}

// Pinger checks the durable store for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type WebhookHandler struct {
	dispatcher Submitter
	store      Pinger
	version    string
}

func NewWebhookHandler(dispatcher Submitter, store Pinger, version string) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		store:      store,
		version:    version,
	}
}

// NewEngine builds the gin engine with the shared middleware chain and the
// relay routes.
func NewEngine(h *WebhookHandler, secret string) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "X-Telegram-Bot-Api-Secret-Token"}
	router.Use(cors.New(corsConfig))

	h.RegisterRoutes(router, secret)
	return router
}

func (h *WebhookHandler) RegisterRoutes(router *gin.Engine, secret string) {
	webhook := router.Group("/webhook", middleware.WebhookSecret(secret))
	{
		webhook.POST("", h.receive)
		webhook.POST("/*path", h.receive)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ready", h.ready)
	router.NoRoute(h.status)
}

// receive acknowledges the update before it is processed.
func (h *WebhookHandler) receive(c *gin.Context) {
	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		middleware.AbortWithError(c, errors.Wrap(err, errors.ErrCodeBadRequest, "Invalid update payload"))
		return
	}

	h.dispatcher.Submit(&update)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *WebhookHandler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "running",
		"version": h.version,
	})
}

func (h *WebhookHandler) ready(c *gin.Context) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unready",
				"error":   "redis unavailable",
				"details": err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
	})
}
