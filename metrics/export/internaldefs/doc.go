// Package internaldefs holds the metric names, help strings and bucket
// bounds shared by the Prometheus and OTel exporters.
//
// Both exporters iterate the same tables, so a metric renamed here is
// renamed everywhere. The package performs no I/O.
package internaldefs
