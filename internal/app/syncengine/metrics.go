package syncengine

import (
	"github.com/pulsecrm/realtime/internal/platform/metrics"
	"github.com/pulsecrm/realtime/internal/realtime"
	"github.com/pulsecrm/realtime/internal/reconcile"
)

// Event outcomes recorded by sync_events_total.
const (
	OutcomeApplied   = "applied"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeRefetched = "refetched"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	Events        *metrics.CounterVec
	Notifications *metrics.CounterVec
	Connection    *metrics.GaugeVec
	Retries       *metrics.Gauge
	ViewVersion   *metrics.Gauge
	ViewItems     *metrics.GaugeVec
}

func NewMetrics(reg *metrics.Registry) *Metrics {
	m := &Metrics{
		Events: metrics.NewCounterVec(metrics.Opts{
			Name: "crm_sync_events_total",
			Help: "Realtime events handled, by event name and outcome",
		}, []string{"event", "outcome"}),
		Notifications: metrics.NewCounterVec(metrics.Opts{
			Name: "crm_sync_notifications_total",
			Help: "Notification events, by whether a toast was shown",
		}, []string{"outcome"}),
		Connection: metrics.NewGaugeVec(metrics.Opts{
			Name: "crm_sync_connection_state",
			Help: "1 for the current realtime connection state",
		}, []string{"state"}),
		Retries: metrics.NewGauge(metrics.Opts{
			Name: "crm_sync_reconnect_attempts",
			Help: "Successful reconnects of the current realtime session",
		}),
		ViewVersion: metrics.NewGauge(metrics.Opts{
			Name: "crm_sync_view_version",
			Help: "Version of the reconciled local view",
		}),
		ViewItems: metrics.NewGaugeVec(metrics.Opts{
			Name: "crm_sync_view_items",
			Help: "Items in the reconciled local view, by collection",
		}, []string{"collection"}),
	}
	reg.MustRegister(m.Events, m.Notifications, m.Connection, m.Retries, m.ViewVersion, m.ViewItems)
	m.ObserveState(realtime.StateDisconnected, 0)
	return m
}

// ObserveState sets the connection gauges. It fits realtime.Options.OnStateChange.
func (m *Metrics) ObserveState(state realtime.State, retries int) {
	for _, s := range []realtime.State{realtime.StateDisconnected, realtime.StateConnecting, realtime.StateConnected} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.Connection.Set(v, string(s))
	}
	m.Retries.Set(float64(retries))
}

// ObserveView tracks the size and version of a reconciled snapshot.
func (m *Metrics) ObserveView(snap reconcile.Snapshot) {
	m.ViewVersion.Set(float64(snap.Version))
	m.ViewItems.Set(float64(len(snap.Contacts)), "contacts")
	m.ViewItems.Set(float64(len(snap.Tasks)), "tasks")
}

func (m *Metrics) event(name, outcome string) {
	m.Events.WithLabelValues(name, outcome).Inc()
}
