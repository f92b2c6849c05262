// Package metrics provides Prometheus instrumentation for the broker.
//
// Collectors hang off a per-instance registry rather than the process
// default, so isolated instances can be constructed freely in tests.
// The broker exposes Handler() under the configured metrics path when
// metrics are enabled.
package metrics
