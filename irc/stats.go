package irc

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerStats tracks server-wide counters, exported both through the admin
// status endpoint and as Prometheus metrics on a private registry.
type ServerStats struct {
	startedAt time.Time

	connectionsTotal  atomic.Int64
	messagesReceived  atomic.Int64
	messagesSent      atomic.Int64
	deliveryFailures  atomic.Int64
	channelsCreated   atomic.Int64
	channelsDeleted   atomic.Int64
	sessionsTimedOut  atomic.Int64
	currentChannels   atomic.Int64
	currentConnected  atomic.Int64
	peakConnected     atomic.Int64
	registeredClients atomic.Int64

	registry *prometheus.Registry

	promConnected     prometheus.Gauge
	promPeakConnected prometheus.Gauge
	promChannels      prometheus.Gauge
	promConnections   prometheus.Counter
	promMessagesRecv  prometheus.Counter
	promMessagesSent  prometheus.Counter
	promDeliveryFails prometheus.Counter
	promTimeouts      prometheus.Counter
}

// NewServerStats creates the counter set and registers its Prometheus
// collectors on a private registry, keeping the default registry clean.
func NewServerStats() *ServerStats {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &ServerStats{
		startedAt: time.Now(),
		registry:  reg,
		promConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ircd_connected_clients",
			Help: "Number of currently connected clients.",
		}),
		promPeakConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ircd_peak_connected_clients",
			Help: "Highest number of simultaneously connected clients.",
		}),
		promChannels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ircd_channels",
			Help: "Number of live channels.",
		}),
		promConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_connections_total",
			Help: "Total connections accepted.",
		}),
		promMessagesRecv: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_messages_received_total",
			Help: "Total protocol lines received.",
		}),
		promMessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_messages_sent_total",
			Help: "Total protocol lines delivered.",
		}),
		promDeliveryFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_delivery_failures_total",
			Help: "Total deliveries that failed and evicted the recipient.",
		}),
		promTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_session_timeouts_total",
			Help: "Total sessions closed by the idle sweep.",
		}),
	}
}

// MetricsHandler returns the scrape handler for the private registry.
func (s *ServerStats) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Uptime returns how long the server has been running.
func (s *ServerStats) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// StartedAt returns the server start time.
func (s *ServerStats) StartedAt() time.Time { return s.startedAt }

// ConnectionOpened records an accepted connection and updates the peak.
func (s *ServerStats) ConnectionOpened() {
	s.connectionsTotal.Add(1)
	now := s.currentConnected.Add(1)
	for {
		peak := s.peakConnected.Load()
		if now <= peak || s.peakConnected.CompareAndSwap(peak, now) {
			break
		}
	}
	s.promConnections.Inc()
	s.promConnected.Inc()
	s.promPeakConnected.Set(float64(s.peakConnected.Load()))
}

// ConnectionClosed records a released connection.
func (s *ServerStats) ConnectionClosed() {
	s.currentConnected.Add(-1)
	s.promConnected.Dec()
}

// ClientRegistered records a session completing registration.
func (s *ServerStats) ClientRegistered() {
	s.registeredClients.Add(1)
}

// MessageReceived records one inbound protocol line.
func (s *ServerStats) MessageReceived() {
	s.messagesReceived.Add(1)
	s.promMessagesRecv.Inc()
}

// MessageSent records one delivered protocol line.
func (s *ServerStats) MessageSent() {
	s.messagesSent.Add(1)
	s.promMessagesSent.Inc()
}

// DeliveryFailed records a delivery failure eviction.
func (s *ServerStats) DeliveryFailed() {
	s.deliveryFailures.Add(1)
	s.promDeliveryFails.Inc()
}

// SessionTimedOut records an idle-sweep eviction.
func (s *ServerStats) SessionTimedOut() {
	s.sessionsTimedOut.Add(1)
	s.promTimeouts.Inc()
}

// ChannelCreated records a channel coming into existence.
func (s *ServerStats) ChannelCreated() {
	s.channelsCreated.Add(1)
	s.currentChannels.Add(1)
	s.promChannels.Inc()
}

// ChannelDeleted records a channel being removed.
func (s *ServerStats) ChannelDeleted() {
	s.channelsDeleted.Add(1)
	s.currentChannels.Add(-1)
	s.promChannels.Dec()
}

// Snapshot is the counter view served by the admin status endpoint.
type Snapshot struct {
	UptimeSeconds     int64 `json:"uptime_seconds"`
	ConnectedClients  int64 `json:"connected_clients"`
	PeakConnected     int64 `json:"peak_connected"`
	Channels          int64 `json:"channels"`
	ConnectionsTotal  int64 `json:"connections_total"`
	RegisteredClients int64 `json:"registered_clients"`
	MessagesReceived  int64 `json:"messages_received"`
	MessagesSent      int64 `json:"messages_sent"`
	DeliveryFailures  int64 `json:"delivery_failures"`
	SessionTimeouts   int64 `json:"session_timeouts"`
	ChannelsCreated   int64 `json:"channels_created"`
	ChannelsDeleted   int64 `json:"channels_deleted"`
}

// Snapshot returns a point-in-time copy of every counter.
func (s *ServerStats) Snapshot() Snapshot {
	return Snapshot{
		UptimeSeconds:     int64(s.Uptime().Seconds()),
		ConnectedClients:  s.currentConnected.Load(),
		PeakConnected:     s.peakConnected.Load(),
		Channels:          s.currentChannels.Load(),
		ConnectionsTotal:  s.connectionsTotal.Load(),
		RegisteredClients: s.registeredClients.Load(),
		MessagesReceived:  s.messagesReceived.Load(),
		MessagesSent:      s.messagesSent.Load(),
		DeliveryFailures:  s.deliveryFailures.Load(),
		SessionTimeouts:   s.sessionsTimedOut.Load(),
		ChannelsCreated:   s.channelsCreated.Load(),
		ChannelsDeleted:   s.channelsDeleted.Load(),
	}
}
