package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of successful checkouts",
	})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of the checkout transaction",
		Buckets: prometheus.DefBuckets,
	})

	CouponsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupons_applied_total",
		Help: "Total number of checkouts that applied a coupon",
	})

	StkPushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stk_push_total",
		Help: "Total number of STK push attempts by outcome",
	}, []string{"outcome"})

	StkPushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stk_push_latency_seconds",
		Help:    "Latency of STK push calls to the provider",
		Buckets: prometheus.DefBuckets,
	})

	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Total number of provider callbacks by disposition",
	}, []string{"disposition"})

	PaymentsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Total number of payments settled successfully",
	})

	PaymentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Total number of payments that failed or expired",
	}, []string{"reason"})

	PaymentsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_swept_total",
		Help: "Total number of stale pending payments expired by the sweeper",
	})

	RefundsRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_requested_total",
		Help: "Total number of return requests",
	})

	RefundsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_processed_total",
		Help: "Total number of refunds processed by action",
	}, []string{"action"})

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
