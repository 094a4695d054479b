package esm

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics holds the counters and gauges for one server instance, grouped
// under their own registry set so multiple instances (as in tests) don't
// collide on the global default set.
type Metrics struct {
	set *metrics.Set

	clientsConnected *metrics.Counter
	clientsRemoved   *metrics.Counter
	messagesInbound  *metrics.Counter
	messagesOutbound *metrics.Counter
	sendFailures     *metrics.Counter
	decodeFailures   *metrics.Counter
	botConnected     *metrics.Gauge
	botConnectedVal  atomic.Int64
}

// NewMetrics constructs a Metrics instance and registers it with set, or
// with a freshly constructed set if set is nil (e.g. in tests that don't
// care about exposing metrics over /metrics).
func NewMetrics(set *metrics.Set) *Metrics {
	if set == nil {
		set = metrics.NewSet()
	}
	m := &Metrics{
		set:              set,
		clientsConnected: set.NewCounter("esm_clients_connected_total"),
		clientsRemoved:   set.NewCounter("esm_clients_removed_total"),
		messagesInbound:  set.NewCounter("esm_messages_inbound_total"),
		messagesOutbound: set.NewCounter("esm_messages_outbound_total"),
		sendFailures:     set.NewCounter("esm_send_failures_total"),
		decodeFailures:   set.NewCounter("esm_decode_failures_total"),
	}
	m.botConnected = set.NewGauge("esm_bot_connected", func() float64 {
		return float64(m.botConnectedVal.Load())
	})
	return m
}

func (m *Metrics) observeBotConnected(connected bool) {
	if connected {
		m.botConnectedVal.Store(1)
	} else {
		m.botConnectedVal.Store(0)
	}
}
