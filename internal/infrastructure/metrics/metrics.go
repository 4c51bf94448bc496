// Package metrics holds the process-wide Prometheus collectors for the
// messaging subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carelink",
		Name:      "realtime_sessions_connected",
		Help:      "Open realtime sessions.",
	})

	MessagesAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carelink",
		Name:      "messages_appended_total",
		Help:      "Messages durably appended, by kind.",
	}, []string{"kind"})

	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carelink",
		Name:      "send_failures_total",
		Help:      "Appends reported back to the sender as failed, by error code.",
	}, []string{"code"})

	ReadAdvances = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carelink",
		Name:      "read_markers_advanced_total",
		Help:      "Read markers moved forward.",
	})

	TypingSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carelink",
		Name:      "typing_signals_total",
		Help:      "Typing signals broadcast, by state.",
	}, []string{"state"})

	SlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carelink",
		Name:      "realtime_slow_consumers_total",
		Help:      "Sessions dropped because their send buffer was full.",
	})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		SessionsConnected, MessagesAppended, SendFailures, ReadAdvances, TypingSignals, SlowConsumers,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
