package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "cityhospital"

// MessagingMetrics exposes counters/histograms for WhatsApp traffic.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whatsapp",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound WhatsApp webhook messages",
		}, []string{"message_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whatsapp",
			Name:      "outbound_total",
			Help:      "Total outbound WhatsApp sends",
		}, []string{"kind", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "whatsapp",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of WhatsApp webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(messageType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(messageType, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(kind, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(method).Observe(seconds)
}

// Booking outcome labels.
const (
	OutcomeBooked            = "booked"
	OutcomeRescheduled       = "rescheduled"
	OutcomeCancelled         = "cancelled"
	OutcomeRejectedSameDay   = "rejected_same_doctor_day"
	OutcomeRejectedTimeClash = "rejected_time_clash"
	OutcomeFailed            = "failed"
)

// BookingOutcomesMetric is the fully qualified name of the outcomes counter.
const BookingOutcomesMetric = namespace + "_booking_outcomes_total"

// BookingMetrics covers the conversation engine and availability lookups.
type BookingMetrics struct {
	eventsTotal      *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	outcomesTotal    *prometheus.CounterVec
	calendarFailures *prometheus.CounterVec
	slotLookup       prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "events_total",
			Help:      "Conversation events handled, by kind",
		}, []string{"kind"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "step_transitions_total",
			Help:      "Session step transitions",
		}, []string{"from", "to"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "outcomes_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		calendarFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "calendar_failures_total",
			Help:      "Calendar collaborator failures that were swallowed",
		}, []string{"op"}),
		slotLookup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "slot_lookup_seconds",
			Help:      "Latency of availability lookups",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.transitionsTotal, m.outcomesTotal, m.calendarFailures, m.slotLookup)
	return m
}

func (m *BookingMetrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCalendarFailure(op string) {
	if m == nil {
		return
	}
	m.calendarFailures.WithLabelValues(op).Inc()
}

func (m *BookingMetrics) ObserveSlotLookup(seconds float64) {
	if m == nil {
		return
	}
	m.slotLookup.Observe(seconds)
}
