/*
Package observability translates bridge lifecycle events into Prometheus
metrics.

It exposes a Metrics collector whose Hooks feed envelope, peer, and call
events into counters, gauges, and histograms, ready to publish through
promhttp alongside the host application's own metrics.
*/
package observability
