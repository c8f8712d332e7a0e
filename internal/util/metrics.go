package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LeadsCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leads_captured_total",
		Help: "Total number of lead form submissions stored",
	})

	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"plan"})

	PaymentIntentsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_created_total",
		Help: "Total number of checkout payment intents created",
	}, []string{"plan"})

	PaymentsConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_confirmed_total",
		Help: "Total number of first payments confirmed",
	}, []string{"plan", "source"})

	PaymentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Total number of failed payments",
	}, []string{"installment"})

	SecondPaymentChargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "second_payment_charges_total",
		Help: "Off-session second installment charge attempts",
	}, []string{"result"})

	OrdersRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_refunded_total",
		Help: "Total number of refunded orders",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Gateway webhook events by kind and outcome",
	}, []string{"kind", "result"})

	EmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_total",
		Help: "Notification attempts by type and delivery status",
	}, []string{"type", "status"})

	SweeperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_sweeper_runs_total",
		Help: "Scheduled second-payment sweeps by outcome",
	}, []string{"result"})

	SweeperOrdersProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_sweeper_orders_processed_total",
		Help: "Orders picked up by the second-payment sweeper",
	})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

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
