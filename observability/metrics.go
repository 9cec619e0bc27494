package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors of the chat core.
// A nil *Metrics records nothing, so components can run without a registry.
type Metrics struct {
	// Membership
	MembershipOps *prometheus.CounterVec

	// Messages
	MessagesSent     *prometheus.CounterVec
	MessagesReceived prometheus.Counter
	Duplicates       prometheus.Counter

	// Subscriptions
	ActiveSubscriptions *prometheus.GaugeVec
	SubscriptionErrors  *prometheus.CounterVec

	// Sessions
	SessionTransitions *prometheus.CounterVec
	StoreLatency       *prometheus.HistogramVec

	// Internal queues
	QueueLength *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MembershipOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_membership_operations_total",
				Help: "Join and leave operations by outcome",
			},
			[]string{"op", "outcome"}, // outcome: "written", "noop", "error"
		),
		MessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_messages_sent_total",
				Help: "Messages appended by outcome",
			},
			[]string{"outcome"},
		),
		MessagesReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_messages_received_total",
				Help: "Messages delivered to subscribers",
			},
		),
		Duplicates: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_messages_duplicates_total",
				Help: "Message deliveries dropped because already seen",
			},
		),
		ActiveSubscriptions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chatsync_active_subscriptions",
				Help: "Open subscriptions by target",
			},
			[]string{"target"},
		),
		SubscriptionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_subscription_errors_total",
				Help: "Subscriptions terminated by a store failure",
			},
			[]string{"target"},
		),
		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_session_transitions_total",
				Help: "Session state transitions by destination state",
			},
			[]string{"state"},
		),
		StoreLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatsync_store_latency_seconds",
				Help:    "Document store write latency",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"op"},
		),
		QueueLength: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chatsync_queue_length",
				Help: "Events waiting in an internal queue, sampled",
			},
			[]string{"queue"},
		),
	}
}

func (m *Metrics) MembershipOp(op, outcome string) {
	if m == nil {
		return
	}
	m.MembershipOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) MessageSent(outcome string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) DuplicateDropped() {
	if m == nil {
		return
	}
	m.Duplicates.Inc()
}

func (m *Metrics) SubscriptionOpened(target string) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.WithLabelValues(target).Inc()
}

func (m *Metrics) SubscriptionClosed(target string) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.WithLabelValues(target).Dec()
}

func (m *Metrics) SubscriptionFailed(target string) {
	if m == nil {
		return
	}
	m.SubscriptionErrors.WithLabelValues(target).Inc()
}

func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(state).Inc()
}

// ObserveStore records the seconds spent in one store write.
func (m *Metrics) ObserveStore(op string, seconds float64) {
	if m == nil {
		return
	}
	m.StoreLatency.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) QueueUsage(queue string, length int) {
	if m == nil {
		return
	}
	m.QueueLength.WithLabelValues(queue).Set(float64(length))
}
