package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for the missed-call lifecycle.
// All Observe methods are safe on a nil receiver.
type Metrics struct {
	webhookTotal       *prometheus.CounterVec
	webhookLatency     *prometheus.HistogramVec
	missedCallsTotal   *prometheus.CounterVec
	followUpsTotal     *prometheus.CounterVec
	lookupInconsistent prometheus.Counter
	repliesTotal       *prometheus.CounterVec
	threadLogTotal     *prometheus.CounterVec
	voicemailsTotal    *prometheus.CounterVec
	jobsTotal          *prometheus.CounterVec
}

// New registers the collectors on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missedcall",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Inbound Twilio webhooks by route and outcome",
		}, []string{"route", "outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "missedcall",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		missedCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missedcall",
			Subsystem: "calls",
			Name:      "missed_total",
			Help:      "Missed-call records by write result",
		}, []string{"result"}),
		followUpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missedcall",
			Subsystem: "followup",
			Name:      "total",
			Help:      "Follow-up dispatch steps by stage and status",
		}, []string{"stage", "status"}),
		lookupInconsistent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "missedcall",
			Subsystem: "followup",
			Name:      "record_lookup_inconsistencies_total",
			Help:      "Follow-ups sent whose missed-call record never became visible",
		}),
		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missedcall",
			Subsystem: "reply",
			Name:      "total",
			Help:      "Inbound SMS replies by kind and status",
		}, []string{"kind", "status"}),
		threadLogTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missedcall",
			Subsystem: "reply",
			Name:      "thread_log_total",
			Help:      "Conversation thread logging outcomes",
		}, []string{"result"}),
		voicemailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missedcall",
			Subsystem: "voicemail",
			Name:      "total",
			Help:      "Voicemail relay outcomes",
		}, []string{"status"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missedcall",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Queue jobs processed by kind and status",
		}, []string{"kind", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.webhookTotal, m.webhookLatency, m.missedCallsTotal, m.followUpsTotal,
		m.lookupInconsistent, m.repliesTotal, m.threadLogTotal, m.voicemailsTotal, m.jobsTotal,
	)
	return m
}

func (m *Metrics) ObserveWebhook(route, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) ObserveWebhookLatency(route string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(route).Observe(seconds)
}

// ObserveMissedCall records created, duplicate or failed writes.
func (m *Metrics) ObserveMissedCall(result string) {
	if m == nil {
		return
	}
	m.missedCallsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFollowUp(stage, status string) {
	if m == nil {
		return
	}
	m.followUpsTotal.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) ObserveLookupInconsistency() {
	if m == nil {
		return
	}
	m.lookupInconsistent.Inc()
}

func (m *Metrics) ObserveReply(kind, status string) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveThreadLog(result string) {
	if m == nil {
		return
	}
	m.threadLogTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveVoicemail(status string) {
	if m == nil {
		return
	}
	m.voicemailsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveJob(kind, status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(kind, status).Inc()
}
