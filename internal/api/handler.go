package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
	"github.com/Omwansam/furniture-backend/internal/mpesa"
	"github.com/Omwansam/furniture-backend/internal/service"
	"github.com/Omwansam/furniture-backend/internal/util"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout *service.CheckoutService
	orders   *service.OrderService
	payments *service.PaymentService
	refunds  *service.RefundService
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout *service.CheckoutService,
	orders *service.OrderService,
	payments *service.PaymentService,
	refunds *service.RefundService,
) *Handler {
	return &Handler{
		checkout: checkout,
		orders:   orders,
		payments: payments,
		refunds:  refunds,
		logger:   util.NamedLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// the provider posts here without a principal
		v1.POST("/payments/callback", h.paymentCallback)
		v1.GET("/payments/status/:checkoutRequestID", h.paymentStatus)

		user := v1.Group("", principal())
		{
			user.POST("/checkout", h.postCheckout)
			user.GET("/orders", h.listOrders)
			user.GET("/orders/:id", h.getOrder)
			user.POST("/orders/:id/cancel", h.cancelOrder)
			user.POST("/orders/:id/return", h.requestReturn)
			user.POST("/payments/initiate", h.initiatePayment)
		}

		admin := v1.Group("/admin", principal(), requireAdmin())
		{
			admin.POST("/orders/:id/status", h.adminOrderStatus)
			admin.POST("/refunds/:id/process", h.processRefund)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type checkoutBody struct {
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
	PhoneNumber     string `json:"phone_number"`
	CouponCode      string `json:"coupon_code"`
}

// postCheckout handles checkout requests
func (h *Handler) postCheckout(c *gin.Context) {
	var body checkoutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.checkout.Checkout(c.Request.Context(), &service.CheckoutRequest{
		UserID:          userID(c),
		ShippingAddress: body.ShippingAddress,
		PaymentMethod:   body.PaymentMethod,
		PhoneNumber:     body.PhoneNumber,
		CouponCode:      body.CouponCode,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// listOrders handles listing the caller's orders
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	detail, err := h.orders.GetOrder(c.Request.Context(), orderID, userID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// cancelOrder handles cancelling a pending order
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.orders.CancelOrder(c.Request.Context(), orderID, userID(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type initiateBody struct {
	OrderID     int64  `json:"order_id"`
	PhoneNumber string `json:"phone_number"`
}

// initiatePayment handles a retry of the STK push for an existing order
func (h *Handler) initiatePayment(c *gin.Context) {
	var body initiateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	// ownership check before touching the payment
	if _, err := h.orders.GetOrder(c.Request.Context(), body.OrderID, userID(c)); err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.payments.Initiate(c.Request.Context(), body.OrderID, body.PhoneNumber)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// paymentStatus handles payment status polling
func (h *Handler) paymentStatus(c *gin.Context) {
	checkoutRequestID := c.Param("checkoutRequestID")
	if checkoutRequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing checkout request ID"})
		return
	}

	result, err := h.payments.Status(c.Request.Context(), checkoutRequestID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if result.Status == service.StatusNotFound {
		c.JSON(http.StatusNotFound, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// paymentCallback receives provider confirmations. The provider only
// honors a 2xx as an acknowledgement, so this returns 200 once the
// event is durably recorded and 5xx otherwise so the provider retries.
func (h *Handler) paymentCallback(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "unreadable body"})
		return
	}

	var env mpesa.CallbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Warn("Malformed payment callback", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "malformed payload"})
		return
	}
	if err := env.Validate(); err != nil {
		h.logger.Warn("Invalid payment callback", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "invalid payload"})
		return
	}

	if err := h.payments.HandleCallback(c.Request.Context(), &env, raw); err != nil {
		h.logger.Error("Failed to process payment callback",
			zap.String("checkout_request_id", env.Body.StkCallback.CheckoutRequestID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ResultCode": 1, "ResultDesc": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "ok"})
}

type returnBody struct {
	Reason  string  `json:"reason"`
	ItemIDs []int64 `json:"item_ids"`
}

// requestReturn handles opening a return request on a delivered order
func (h *Handler) requestReturn(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body returnBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	refund, err := h.refunds.RequestReturn(c.Request.Context(), orderID, userID(c), body.Reason, body.ItemIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

type processRefundBody struct {
	Action  string  `json:"action"`
	Notes   *string `json:"notes"`
	Restock bool    `json:"restock"`
}

// processRefund handles the admin decision on a return request
func (h *Handler) processRefund(c *gin.Context) {
	refundID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body processRefundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.refunds.ProcessReturn(c.Request.Context(), refundID, body.Action, body.Notes, body.Restock)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type orderStatusBody struct {
	Status string `json:"status"`
}

// adminOrderStatus handles operator-driven order transitions
func (h *Handler) adminOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body orderStatusBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.orders.AdminTransition(c.Request.Context(), orderID, models.OrderStatus(body.Status)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": body.Status})
}

// writeError maps service errors onto HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	var appErr *errs.Error
	if errors.As(err, &appErr) {
		c.JSON(status, gin.H{"error": appErr.Msg, "code": appErr.Code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// principal resolves the caller from the gateway-injected identity
// headers. The gateway terminates authentication; these headers are
// trusted inside the perimeter.
func principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid X-User-ID"})
			return
		}
		c.Set(ctxUserID, id)
		c.Set(ctxRole, c.GetHeader("X-User-Role"))
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin role required"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
