// Package metrics holds the prometheus collectors for the sync core and the relay.
//
// Every method is nil-safe so components can run without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatsync"

// Scopes label whether an event landed on the conversation being viewed.
const (
	ScopeActive     = "active"
	ScopeBackground = "background"
)

// Sync counts conversation synchronization events on one client.
type Sync struct {
	decodeErrors  prometheus.Counter
	appended      *prometheus.CounterVec
	duplicates    prometheus.Counter
	deleted       *prometheus.CounterVec
	notifications prometheus.Counter
	storageErrors prometheus.Counter
}

// NewSync builds the client collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewSync(reg prometheus.Registerer) *Sync {
	f := promauto.With(reg)
	return &Sync{
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "decode_errors_total",
			Help: "Inbound payloads or persisted logs that failed validation.",
		}),
		appended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "appended_total",
			Help: "Distinct messages appended to a conversation log.",
		}, []string{"scope"}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "duplicates_total",
			Help: "Inbound messages ignored because their id was already logged.",
		}),
		deleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "deleted_total",
			Help: "Messages removed by delete signals.",
		}, []string{"scope"}),
		notifications: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "notifications_total",
			Help: "Notifications requested for background conversations.",
		}),
		storageErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "storage_errors_total",
			Help: "Failed reads or writes of persisted conversation logs.",
		}),
	}
}

func (m *Sync) DecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Sync) Appended(scope string) {
	if m != nil {
		m.appended.WithLabelValues(scope).Inc()
	}
}

func (m *Sync) Duplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Sync) Deleted(scope string) {
	if m != nil {
		m.deleted.WithLabelValues(scope).Inc()
	}
}

func (m *Sync) Notified() {
	if m != nil {
		m.notifications.Inc()
	}
}

func (m *Sync) StorageError() {
	if m != nil {
		m.storageErrors.Inc()
	}
}

// Relay counts socket and broker traffic on the relay server.
type Relay struct {
	clients     prometheus.Gauge
	published   prometheus.Counter
	delivered   prometheus.Counter
	dropped     prometheus.Counter
	rateLimited prometheus.Counter
}

// NewRelay builds the relay collectors and registers them on reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	f := promauto.With(reg)
	return &Relay{
		clients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "clients",
			Help: "Currently connected socket clients.",
		}),
		published: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "published_total",
			Help: "Frames published to the broker.",
		}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "delivered_total",
			Help: "Frames queued to subscribed sockets.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "dropped_total",
			Help: "Frames dropped because a socket queue was full.",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "rate_limited_total",
			Help: "Publish frames rejected by the per-client limiter.",
		}),
	}
}

func (m *Relay) ClientConnected() {
	if m != nil {
		m.clients.Inc()
	}
}

func (m *Relay) ClientDisconnected() {
	if m != nil {
		m.clients.Dec()
	}
}

func (m *Relay) Published() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *Relay) Delivered() {
	if m != nil {
		m.delivered.Inc()
	}
}

func (m *Relay) Dropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Relay) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}
