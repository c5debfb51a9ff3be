package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caixa_checkouts_total",
		Help: "Checkout attempts by result",
	}, []string{"result"})

	CheckoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caixa_checkout_duration_seconds",
		Help:    "Latency of the checkout transaction",
		Buckets: prometheus.DefBuckets,
	})

	StockRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caixa_stock_rejections_total",
		Help: "Checkouts aborted because a product could not cover the requested quantity",
	})

	InstallmentsCollectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caixa_installments_collected_total",
		Help: "Installment collection attempts by result",
	}, []string{"result"})

	ConsignmentSettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caixa_consignment_settlements_total",
		Help: "Consignment batch settlements by result",
	}, []string{"result"})

	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caixa_ledger_entries_total",
		Help: "Ledger entries appended by direction and category",
	}, []string{"direction", "category"})

	EventsPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caixa_events_publish_failed_total",
		Help: "Domain events that could not be published after commit",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caixa_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
