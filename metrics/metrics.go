// Package metrics exports client counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	blivedm "github.com/c-basalt/blivedm-dump"
)

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "blivedm").
	Namespace string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Collector implements blivedm.Metrics. One Collector is shared by all
// clients of a process.
type Collector struct {
	transitions     *prometheus.CounterVec
	openConnections prometheus.Gauge
	connectAttempts *prometheus.CounterVec
	packets         *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec
	commands        *prometheus.CounterVec
}

// New registers the metrics and returns the collector. Registering twice on
// the same registry panics.
func New(opts ...Option) *Collector {
	config := Config{
		Namespace: "blivedm",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Collector{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "state_transitions_total",
			Help:        "Connection state transitions by source and target state",
			ConstLabels: config.ConstLabels,
		}, []string{"from", "to"}),

		openConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "open_connections",
			Help:        "Number of authenticated connections",
			ConstLabels: config.ConstLabels,
		}),

		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "connect_attempts_total",
			Help:        "Connect attempts by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "packets_received_total",
			Help:        "Decoded inbound packets by operation",
			ConstLabels: config.ConstLabels,
		}, []string{"operation"}),

		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "protocol_errors_total",
			Help:        "Packets dropped as malformed, by error code",
			ConstLabels: config.ConstLabels,
		}, []string{"code"}),

		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "commands_total",
			Help:        "Commands handed to handlers, by tag",
			ConstLabels: config.ConstLabels,
		}, []string{"tag"}),
	}
}

func (c *Collector) StateChanged(from, to blivedm.ConnectionState) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	if to == blivedm.StateOpen {
		c.openConnections.Inc()
	}
	if from == blivedm.StateOpen {
		c.openConnections.Dec()
	}
}

func (c *Collector) ConnectAttempt(url string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.connectAttempts.WithLabelValues(result).Inc()
}

func (c *Collector) PacketReceived(op blivedm.Operation) {
	c.packets.WithLabelValues(op.String()).Inc()
}

func (c *Collector) ProtocolError(code blivedm.ErrorCode) {
	c.protocolErrors.WithLabelValues(code.String()).Inc()
}

func (c *Collector) CommandDispatched(tag string) {
	c.commands.WithLabelValues(tag).Inc()
}

var _ blivedm.Metrics = (*Collector)(nil)
