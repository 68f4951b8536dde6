package certsd

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/caasmo/certsd")

const (
	ResultRenewed = "renewed"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// Metrics are the renewal counters exported after a run.
type Metrics struct {
	Renewals       *prometheus.CounterVec
	RenewalRetries *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	Expiry         *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certsd",
			Name:      "renewals_total",
			Help:      "Renewal invocations by domain, variant and result.",
		}, []string{"domain", "variant", "result"}),
		RenewalRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certsd",
			Name:      "renewal_retries_total",
			Help:      "Renewal restarts after an order error.",
		}, []string{"domain", "variant"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certsd",
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		Expiry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "certsd",
			Name:      "certificate_expiry_timestamp_seconds",
			Help:      "NotAfter of the current certificate.",
		}, []string{"domain", "variant"}),
	}
	if reg != nil {
		reg.MustRegister(m.Renewals, m.RenewalRetries, m.Notifications, m.Expiry)
	}
	return m
}
