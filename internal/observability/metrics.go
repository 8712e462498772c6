package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "payhub"

// Metrics is safe to use through a nil pointer so tests and tools can skip
// registration entirely.
type Metrics struct {
	providerCalls    *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	transitions      *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	reconcileChecked prometheus.Counter
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "provider_calls_total",
			Help:      "Outbound payment provider API calls.",
		}, []string{"provider", "operation", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of outbound payment provider API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "transaction_status_transitions_total",
			Help:      "Persisted transaction status changes.",
		}, []string{"provider", "from", "to"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "webhook_events_total",
			Help:      "Webhook events by final processing status.",
		}, []string{"provider", "status"}),
		reconcileChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "reconcile_checked_total",
			Help:      "Pending transactions re-checked by the reconcile sweep.",
		}),
	}

	var err error
	if m.providerCalls, err = register(reg, m.providerCalls); err != nil {
		return nil, err
	}
	if m.providerLatency, err = register(reg, m.providerLatency); err != nil {
		return nil, err
	}
	if m.transitions, err = register(reg, m.transitions); err != nil {
		return nil, err
	}
	if m.webhookEvents, err = register(reg, m.webhookEvents); err != nil {
		return nil, err
	}
	if m.reconcileChecked, err = register(reg, m.reconcileChecked); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) ObserveProviderCall(provider, operation string, statusCode int, took time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil && statusCode == 0:
		outcome = "network_error"
	case err != nil:
		outcome = "provider_error"
	}
	m.providerCalls.WithLabelValues(provider, operation, outcome).Inc()
	m.providerLatency.WithLabelValues(provider, operation).Observe(took.Seconds())
}

func (m *Metrics) IncTransition(provider, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(provider, from, to).Inc()
}

func (m *Metrics) IncWebhook(provider, status string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) AddReconciled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconcileChecked.Add(float64(n))
}
