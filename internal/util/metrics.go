package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	InventoryRollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_rollbacks_total",
		Help: "Total number of inventory rollbacks by order type",
	}, []string{"order_type"})

	CreateOrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "create_order_latency_seconds",
		Help:    "Latency of order creation including inventory adjustment",
		Buckets: prometheus.DefBuckets,
	})

	PackagesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packages_issued_total",
		Help: "Total number of own packages issued from paid orders",
	})

	PackagesUsedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packages_used_total",
		Help: "Total number of own packages redeemed",
	})

	PackagesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packages_expired_total",
		Help: "Total number of own packages expired by the sweep",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
