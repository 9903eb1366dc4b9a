package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	coordinator *service.Coordinator
	packages    *service.OwnPackageService
	db          Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(coordinator *service.Coordinator, packages *service.OwnPackageService, db Pinger) *Handler {
	return &Handler{
		coordinator: coordinator,
		packages:    packages,
		db:          db,
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
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/packages", h.createPackagesFromOrder)
		v1.GET("/users/:id/orders", h.listUserOrders)
		v1.GET("/users/:id/packages", h.listUserPackages)
		v1.GET("/variants/:id/stock", h.getVariantStock)
		v1.GET("/packages/:id", h.getPackage)
		v1.POST("/packages/:id/use", h.usePackage)
		v1.POST("/packages/process-expired", h.processExpiredPackages)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the database answers a ping
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.db != nil {
		if err := h.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.coordinator.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err, "Failed to create order")
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.coordinator.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err, "Failed to get order")
		return
	}

	c.JSON(http.StatusOK, order)
}

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// updateOrderStatus handles order status transitions
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.coordinator.UpdateOrderStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		respondError(c, err, "Failed to update order status")
		return
	}

	c.JSON(http.StatusOK, order)
}

// createPackagesFromOrder mints own packages from a paid ads_package order
func (h *Handler) createPackagesFromOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	pkgs, err := h.packages.CreateFromOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err, "Failed to create packages")
		return
	}

	c.JSON(http.StatusCreated, pkgs)
}

// getVariantStock serves a variant's stock level, cache-first
func (h *Handler) getVariantStock(c *gin.Context) {
	variantID, ok := pathID(c)
	if !ok {
		return
	}

	stock, err := h.coordinator.GetVariantStock(c.Request.Context(), variantID)
	if err != nil {
		respondError(c, err, "Failed to get variant stock")
		return
	}

	c.JSON(http.StatusOK, gin.H{"variant_id": variantID, "stock": stock})
}

// listUserOrders handles get orders by user ID
func (h *Handler) listUserOrders(c *gin.Context) {
	userID, ok := pathID(c)
	if !ok {
		return
	}

	orders, err := h.coordinator.ListUserOrders(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to list orders")
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// listUserPackages handles get packages by user ID
func (h *Handler) listUserPackages(c *gin.Context) {
	userID, ok := pathID(c)
	if !ok {
		return
	}

	pkgs, err := h.packages.ListUserPackages(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to list packages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"packages": pkgs, "count": len(pkgs)})
}

// getPackage handles get package by ID
func (h *Handler) getPackage(c *gin.Context) {
	packageID, ok := pathID(c)
	if !ok {
		return
	}

	pkg, err := h.packages.GetPackage(c.Request.Context(), packageID)
	if err != nil {
		respondError(c, err, "Failed to get package")
		return
	}

	c.JSON(http.StatusOK, pkg)
}

type usePackageRequest struct {
	RefID int64 `json:"ref_id" binding:"required"`
}

// usePackage redeems an own package against a course or event
func (h *Handler) usePackage(c *gin.Context) {
	packageID, ok := pathID(c)
	if !ok {
		return
	}

	var req usePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	pkg, err := h.packages.UsePackage(c.Request.Context(), packageID, req.RefID)
	if err != nil {
		respondError(c, err, "Failed to use package")
		return
	}

	c.JSON(http.StatusOK, pkg)
}

// processExpiredPackages runs the expiry sweep; safe to call repeatedly
func (h *Handler) processExpiredPackages(c *gin.Context) {
	count, err := h.packages.ProcessExpiredPackages(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to process expired packages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated_count": count})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// respondError maps domain errors to HTTP statuses. Unexpected errors come
// back as a generic 500; the transaction is already rolled back by then.
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidOrderType),
		errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrExpired),
		errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrInsufficientCapacity),
		errors.Is(err, models.ErrInsufficientSeats):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
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
