package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// OrderAPI is the order surface used by the handlers
type OrderAPI interface {
	CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*service.CreateOrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) (*service.OrderList, error)
	UpdateOrder(ctx context.Context, orderID string, req *service.UpdateOrderRequest) (*models.Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
	GetTutorialAccess(ctx context.Context, orderID string) (*service.TutorialAccess, error)
	GetEmailLogs(ctx context.Context, orderID string) ([]models.EmailLog, error)
}

// PaymentAPI is the payment surface used by the handlers
type PaymentAPI interface {
	InitiatePayment(ctx context.Context, req *service.CreateIntentRequest) (*service.CreateIntentResponse, error)
	ConfirmPayment(ctx context.Context, paymentIntentID string) (*models.Order, error)
	RetrySecondPayment(ctx context.Context, orderID string) (*models.Order, error)
	RefundOrder(ctx context.Context, orderID string, req *service.RefundRequest) (*models.Order, error)
}

// WebhookAPI verifies and applies gateway callbacks
type WebhookAPI interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// LeadAPI is the lead surface used by the handlers
type LeadAPI interface {
	CaptureLead(ctx context.Context, req *service.CaptureLeadRequest) (*models.Lead, error)
	GetLead(ctx context.Context, id string) (*models.Lead, error)
	ListLeads(ctx context.Context, filter models.LeadFilter) (*service.LeadList, error)
	DeleteLead(ctx context.Context, id string) error
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the router
type Options struct {
	AdminAPIKey string
	CORSOrigins []string
	// Checks are pinged by /ready, keyed by dependency name
	Checks map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	orders   OrderAPI
	payments PaymentAPI
	webhooks WebhookAPI
	leads    LeadAPI
	opts     Options
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders OrderAPI, payments PaymentAPI, webhooks WebhookAPI, leads LeadAPI, opts Options) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		webhooks: webhooks,
		leads:    leads,
		opts:     opts,
		logger:   util.GetLogger(),
	}
}

// NewRouter builds a gin engine with all routes registered
func NewRouter(h *Handler) *gin.Engine {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		service.RegisterJSONFieldNames(v)
	}

	router := gin.New()
	h.SetupRoutes(router)
	return router
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))
	router.Use(corsMiddleware(h.opts.CORSOrigins))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	admin := adminAuth(h.opts.AdminAPIKey)
	{
		api.POST("/leads", h.captureLead)
		api.GET("/leads", admin, h.listLeads)
		api.GET("/leads/:id", admin, h.getLead)
		api.DELETE("/leads/:id", admin, h.deleteLead)

		api.POST("/orders", h.createOrder)
		api.GET("/orders", admin, h.listOrders)
		api.GET("/orders/:orderId", h.getOrder)
		api.GET("/orders/:orderId/access", h.getTutorialAccess)
		api.GET("/orders/:orderId/emails", admin, h.getEmailLogs)
		api.PATCH("/orders/:orderId", admin, h.updateOrder)
		api.DELETE("/orders/:orderId", admin, h.deleteOrder)
		api.POST("/orders/:orderId/refund", admin, h.refundOrder)
		api.POST("/orders/:orderId/retry-second-payment", admin, h.retrySecondPayment)

		api.POST("/payments/create-intent", h.createPaymentIntent)
		api.POST("/payments/confirm", h.confirmPayment)
		api.POST("/payments/webhook", h.stripeWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every configured dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, p := range h.opts.Checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// captureLead stores a landing-page lead
func (h *Handler) captureLead(c *gin.Context) {
	var req service.CaptureLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, service.ValidationErrorFrom(err))
		return
	}
	req.IPAddress = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	lead, err := h.leads.CaptureLead(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"leadId":  lead.ID,
	})
}

func (h *Handler) getLead(c *gin.Context) {
	lead, err := h.leads.GetLead(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (h *Handler) listLeads(c *gin.Context) {
	filter := models.LeadFilter{
		Page:  queryInt(c, "page"),
		Limit: queryInt(c, "limit"),
	}
	if raw := c.Query("converted"); raw != "" {
		converted, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondError(c, &service.Error{
				Kind:    service.KindValidation,
				Message: "validation failed",
				Fields:  []service.FieldError{{Field: "converted", Message: "must be true or false"}},
			})
			return
		}
		filter.Converted = &converted
	}

	list, err := h.leads.ListLeads(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) deleteLead(c *gin.Context) {
	if err := h.leads.DeleteLead(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, service.ValidationErrorFrom(err))
		return
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"orderId": resp.OrderID,
	})
}

// getOrder handles get order by public order id
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	list, err := h.orders.ListOrders(c.Request.Context(), models.OrderFilter{
		PaymentStatus: models.PaymentStatus(c.Query("paymentStatus")),
		PaymentPlan:   models.PaymentPlan(c.Query("paymentPlan")),
		Page:          queryInt(c, "page"),
		Limit:         queryInt(c, "limit"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) updateOrder(c *gin.Context) {
	var req service.UpdateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, service.ValidationErrorFrom(err))
		return
	}

	order, err := h.orders.UpdateOrder(c.Request.Context(), c.Param("orderId"), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) deleteOrder(c *gin.Context) {
	if err := h.orders.DeleteOrder(c.Request.Context(), c.Param("orderId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getTutorialAccess(c *gin.Context) {
	access, err := h.orders.GetTutorialAccess(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, access)
}

func (h *Handler) getEmailLogs(c *gin.Context) {
	logs, err := h.orders.GetEmailLogs(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": logs})
}

func (h *Handler) refundOrder(c *gin.Context) {
	var req service.RefundRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.respondError(c, service.ValidationErrorFrom(err))
			return
		}
	}

	order, err := h.payments.RefundOrder(c.Request.Context(), c.Param("orderId"), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (h *Handler) retrySecondPayment(c *gin.Context) {
	order, err := h.payments.RetrySecondPayment(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

// createPaymentIntent starts the first (or only) charge of an order
func (h *Handler) createPaymentIntent(c *gin.Context) {
	var req service.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, service.ValidationErrorFrom(err))
		return
	}

	resp, err := h.payments.InitiatePayment(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
}

// confirmPayment is called by the browser once the card step succeeded
func (h *Handler) confirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, service.ValidationErrorFrom(err))
		return
	}

	order, err := h.payments.ConfirmPayment(c.Request.Context(), req.PaymentIntentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

// stripeWebhook needs the raw body for signature verification
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.respondError(c, &service.Error{Kind: service.KindValidation, Message: "failed to read body", Err: err})
		return
	}

	if err := h.webhooks.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
