/*
Package metrics exposes Prometheus instrumentation for a single controller
run: build phase durations, allocation transition counts, certificate
issuance, and health-check retries.

Unlike a long-running server, the controller is a batch process, so these
metrics are typically pushed to a pushgateway or dumped to a textfile
collector at the end of a run rather than scraped live; Handler is provided
for operators who wrap the controller in a sidecar that does expose an
HTTP endpoint.
*/
package metrics
