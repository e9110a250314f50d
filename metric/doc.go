// Package metric manages Prometheus metric registration for echopipe.
//
// A Registry owns a private prometheus.Registry plus Go runtime and
// process collectors, and namespaces every registered collector by
// component and metric name so two components cannot silently collide.
// The gateway mounts Handler() at /metrics; components such as the
// pipe resource register their collectors through the typed Register*
// methods.
package metric
