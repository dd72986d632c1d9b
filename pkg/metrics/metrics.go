package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_messages_sent_total",
		Help: "Outbound messages by kind and final status.",
	}, []string{"kind", "status"})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_messages_received_total",
		Help: "Inbound webhook messages by kind.",
	}, []string{"kind"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_webhook_events_total",
		Help: "Webhook batches by event class.",
	}, []string{"class"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_rate_limited_total",
		Help: "Sends rejected by the per-agent token buckets.",
	}, []string{"kind"})

	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wagate_ws_sessions",
		Help: "Currently connected duplex sessions.",
	})

	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_upstream_errors_total",
		Help: "WhatsApp Cloud API failures by operation.",
	}, []string{"op"})

	WorkflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wagate_workflow_runs_total",
		Help: "Workflow activations by flow.",
	}, []string{"flow"})
)
