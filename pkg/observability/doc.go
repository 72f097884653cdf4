/*
Package observability exports pitcrew activity as Prometheus metrics.

A Metrics value implements the bus and timeout observers and provides
engine lifecycle hooks, so one registry covers message flow, stage timeouts
and workflow outcomes.
*/
package observability
