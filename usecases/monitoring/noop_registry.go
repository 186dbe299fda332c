package monitoring

import "github.com/prometheus/client_golang/prometheus"

// NoopRegisterer swallows every registration. Tests and the
// monitoring-disabled path hand it to NewMetrics.
var NoopRegisterer prometheus.Registerer = noopRegisterer{}

type noopRegisterer struct{}

func (noopRegisterer) Register(prometheus.Collector) error { return nil }

func (noopRegisterer) MustRegister(...prometheus.Collector) {}

func (noopRegisterer) Unregister(prometheus.Collector) bool { return true }
