/*
Package types defines the controller's data model: the Bucket singleton,
Host and Job entities, the Allocation edge between them, and the
versioned KVEntry row, plus the shapes the workspace loader decodes from
disk (InventoryHost, JobManifest and DisabledOverrides from JSON,
ControllerConfig from INI).

These are plain structs with no persistence logic; see pkg/storage for how
they're stored and pkg/workspace for how they're parsed and validated.
*/
package types
