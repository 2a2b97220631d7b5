// Package metrics provides Prometheus instrumentation shared by the bus and
// the agent runtimes.
//
// All observation methods are safe on a nil *Metrics, so instrumentation can
// be disabled by simply not constructing one:
//
//	m := metrics.MustNew(prometheus.NewRegistry())
//	rt, _ := runtime.New(cfg, busInstance, func(o *runtime.Options) {
//		o.Metrics = m
//	})
//
// Use Default for the process-wide instance backed by the global registry.
package metrics
