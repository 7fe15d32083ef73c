// Package progress defines the run, date and page events the ingestion pipeline emits and a
// hub that fans each event out to pluggable sinks such as structured logs, Prometheus
// collectors or a Pub/Sub topic.
package progress
