package metrics

import (
	"log"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported on /metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Operations    *prometheus.CounterVec
	Claims        *prometheus.CounterVec
	SLAPhase      *prometheus.GaugeVec
	Notifications *prometheus.CounterVec
	FeedDropped   prometheus.Counter
	Estimates     *prometheus.CounterVec
	Requests      *prometheus.CounterVec
}

func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_ticket_operations_total",
			Help: "Ticket lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_claims_total",
			Help: "Call-next attempts by result",
		}, []string{"result"}),
		SLAPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_sla_tickets",
			Help: "Serving tickets per SLA phase at the last scan",
		}, []string{"phase"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_notifications_total",
			Help: "Notification attempts by channel and status",
		}, []string{"channel", "status"}),
		FeedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_feed_dropped_total",
			Help: "Change feed messages dropped on a full subscriber buffer",
		}),
		Estimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_estimates_total",
			Help: "Wait estimates by confidence",
		}, []string{"confidence"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_http_requests_total",
			Help: "HTTP requests by method and status class",
		}, []string{"method", "class"}),
	}

	if registerer == nil {
		return m
	}
	collectors := []prometheus.Collector{m.Operations, m.Claims, m.SLAPhase, m.Notifications, m.FeedDropped, m.Estimates, m.Requests}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				log.Printf("metrics register error: %v", err)
			}
		}
	}
	return m
}

func (m *Metrics) Operation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Claim(result string) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(result).Inc()
}

func (m *Metrics) SetSLAPhase(phase string, count int) {
	if m == nil {
		return
	}
	m.SLAPhase.WithLabelValues(phase).Set(float64(count))
}

func (m *Metrics) Notification(channel, status string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.FeedDropped.Inc()
}

func (m *Metrics) Estimate(confidence string) {
	if m == nil {
		return
	}
	m.Estimates.WithLabelValues(confidence).Inc()
}

func (m *Metrics) Request(method string, status int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, strconv.Itoa(status/100)+"xx").Inc()
}
