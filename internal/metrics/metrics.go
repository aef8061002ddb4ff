package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kbconsole"

// Refresh results
const (
	RefreshSuccess   = "success"
	RefreshFailure   = "failure"
	RefreshSkipped   = "skipped"
	RefreshDiscarded = "discarded"
)

// Dispatch outcomes
const (
	OutcomeOK           = "ok"
	OutcomeHTTPError    = "http_error"
	OutcomeUnauthorized = "unauthorized"
	OutcomeNetwork      = "network_error"
	OutcomeTimeout      = "timeout"
)

// Sign-out reasons
const (
	ReasonUser          = "user"
	ReasonRefreshFailed = "refresh_failed"
	ReasonUnauthorized  = "unauthorized"
)

// Metrics holds the console's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	refreshes     *prometheus.CounterVec
	refreshShared prometheus.Counter
	requests      *prometheus.CounterVec
	authRetries   prometheus.Counter
	signOuts      *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Upstream session refresh attempts by result.",
		}, []string{"result"}),
		refreshShared: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refresh_shared_total",
			Help:      "Refresh callers that joined an in-flight refresh.",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Authenticated requests by outcome.",
		}, []string{"outcome"}),
		authRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "auth_retries_total",
			Help:      "Requests retried after a 401 and a forced refresh.",
		}),
		signOuts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signouts_total",
			Help:      "Sign-outs by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) RefreshCompleted(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) RefreshShared() {
	if m == nil {
		return
	}
	m.refreshShared.Inc()
}

func (m *Metrics) RequestCompleted(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuthRetry() {
	if m == nil {
		return
	}
	m.authRetries.Inc()
}

func (m *Metrics) SignedOut(reason string) {
	if m == nil {
		return
	}
	m.signOuts.WithLabelValues(reason).Inc()
}
