package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_jobs_processed_total",
		Help: "Jobs processed by the worker pipeline, by terminal outcome.",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inkwell_stage_duration_seconds",
		Help:    "Duration of each pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_webhook_deliveries_total",
		Help: "Webhook delivery attempts, by result.",
	}, []string{"result"})

	CampaignBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inkwell_campaign_batches_total",
		Help: "Campaign batches committed by the scheduler.",
	})

	QueueRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inkwell_queue_redeliveries_total",
		Help: "Messages redelivered after a handler failure.",
	})
)
