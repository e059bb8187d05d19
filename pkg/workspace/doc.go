// Package workspace is the workspace loader (spec.md §4.B): it parses and
// schema-validates every on-disk document the controller reads - the host
// inventory, job manifests, disabled-job overrides, cluster and per-job
// variable files, and maand.conf - handing back plain types.* values for
// the reconciler, job builder, and assigner to consume.
//
// Structural problems (missing required fields, malformed JSON, an
// invalid IPv4 host) are reported as *errs.Error with KindSchemaValidation
// so the build pipeline can fail the whole transaction with one error
// taxonomy.
package workspace
