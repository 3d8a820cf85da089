package roomkit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the lifecycle manager updates.
// All collectors carry a room label so several rooms can share one
// registerer.
type Metrics struct {
	transitionsTotal     *prometheus.CounterVec
	stateGauge           *prometheus.GaugeVec
	transientAbsorbed    *prometheus.CounterVec
	discontinuitiesTotal *prometheus.CounterVec
	operationSeconds     *prometheus.HistogramVec
}

// NewMetrics creates and registers the lifecycle collectors with the given
// registerer. An empty namespace leaves metric names un-prefixed.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "room_transitions_total",
				Help:      "Total number of room lifecycle transitions by source and target state",
			},
			[]string{"room", "from", "to"},
		),
		stateGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "room_state",
				Help:      "Current room lifecycle state (1 for the active state, 0 otherwise)",
			},
			[]string{"room", "state"},
		),
		transientAbsorbed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "room_transient_detaches_absorbed_total",
				Help:      "Total number of channel detachments absorbed within the transient grace period",
			},
			[]string{"room"},
		),
		discontinuitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "room_discontinuities_total",
				Help:      "Total number of message-stream discontinuities by phase (recorded or delivered)",
			},
			[]string{"room", "phase"},
		),
		operationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "room_operation_duration_seconds",
				Help:      "Duration of room attach and detach orchestrations",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"room", "operation", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.transitionsTotal, m.stateGauge, m.transientAbsorbed, m.discontinuitiesTotal, m.operationSeconds)
	}
	return m
}

var allRoomStates = []RoomState{
	RoomStateInitialized,
	RoomStateAttaching,
	RoomStateAttached,
	RoomStateDetaching,
	RoomStateDetached,
	RoomStateSuspended,
	RoomStateFailed,
}

func (m *Metrics) observeTransition(room string, change RoomStatusChange) {
	m.transitionsTotal.WithLabelValues(room, string(change.Previous), string(change.Current)).Inc()
	for _, state := range allRoomStates {
		value := 0.0
		if state == change.Current {
			value = 1.0
		}
		m.stateGauge.WithLabelValues(room, string(state)).Set(value)
	}
}

func (m *Metrics) observeTransientAbsorbed(room string) {
	m.transientAbsorbed.WithLabelValues(room).Inc()
}

func (m *Metrics) observeDiscontinuity(room, phase string) {
	m.discontinuitiesTotal.WithLabelValues(room, phase).Inc()
}

func (m *Metrics) observeOperation(room, operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.operationSeconds.WithLabelValues(room, operation, outcome).Observe(time.Since(start).Seconds())
}
