/*
Package log provides structured logging for the controller using zerolog.

All components obtain a logger via log.WithComponent("<name>") and enrich it
with log.WithHost / log.WithJob / log.WithCommand where relevant, so a
single build or deploy run produces a coherent stream of records keyed
by component, host_ip, and job — the fields spec.md §7 requires on every
fatal failure.

Console output is the default; --log-json switches to JSON records.
*/
package log
