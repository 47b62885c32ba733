package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	messagesSent            *prometheus.CounterVec
	conversations           *prometheus.CounterVec
	offerTransitions        *prometheus.CounterVec
	notificationsDispatched *prometheus.CounterVec
	notificationsSuppressed *prometheus.CounterVec
	deletions               *prometheus.CounterVec
	activeSubscriptions     prometheus.Gauge
	resubscribes            prometheus.Counter
	remoteErrors            *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeup",
			Name:      "messages_sent_total",
			Help:      "Messages written to conversations, by message type.",
		}, []string{"type"}),
		conversations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeup",
			Name:      "conversation_resolutions_total",
			Help:      "createOrGet outcomes.",
		}, []string{"outcome"}),
		offerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeup",
			Name:      "offer_transitions_total",
			Help:      "Offer state changes, by resulting status.",
		}, []string{"status"}),
		notificationsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeup",
			Name:      "notifications_dispatched_total",
			Help:      "Notifications handed to the dispatcher.",
		}, []string{"kind"}),
		notificationsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeup",
			Name:      "notifications_suppressed_total",
			Help:      "Inbound messages classified as not fresh.",
		}, []string{"reason"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeup",
			Name:      "message_deletions_total",
			Help:      "Message deletions, by scope and outcome.",
		}, []string{"scope", "outcome"}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradeup",
			Name:      "active_subscriptions",
			Help:      "Open timeline and inbox subscriptions.",
		}),
		resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeup",
			Name:      "resubscribes_total",
			Help:      "Automatic resubscriptions after a dropped stream.",
		}),
		remoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeup",
			Name:      "remote_errors_total",
			Help:      "Failed remote store calls, by error code.",
		}, []string{"code"}),
	}

	reg.MustRegister(
		m.messagesSent,
		m.conversations,
		m.offerTransitions,
		m.notificationsDispatched,
		m.notificationsSuppressed,
		m.deletions,
		m.activeSubscriptions,
		m.resubscribes,
		m.remoteErrors,
	)
	return m
}

func (m *Metrics) MessageSent(messageType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(messageType).Inc()
}

func (m *Metrics) ConversationResolved(outcome string) {
	if m == nil {
		return
	}
	m.conversations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OfferTransition(status string) {
	if m == nil {
		return
	}
	m.offerTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) NotificationDispatched(kind string) {
	if m == nil {
		return
	}
	m.notificationsDispatched.WithLabelValues(kind).Inc()
}

func (m *Metrics) NotificationSuppressed(reason string) {
	if m == nil {
		return
	}
	m.notificationsSuppressed.WithLabelValues(reason).Inc()
}

func (m *Metrics) Deletion(scope, outcome string) {
	if m == nil {
		return
	}
	m.deletions.WithLabelValues(scope, outcome).Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.activeSubscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.activeSubscriptions.Dec()
}

func (m *Metrics) Resubscribed() {
	if m == nil {
		return
	}
	m.resubscribes.Inc()
}

func (m *Metrics) RemoteError(code string) {
	if m == nil {
		return
	}
	m.remoteErrors.WithLabelValues(code).Inc()
}
