/*
Package security implements the certificate engine (spec.md §4.H): a
single self-signed root keyed by the cluster's bucket ID, and the leaf
certificates issued against it for each host and each certs entry in a job
manifest.

The root's private key is AES-256-GCM encrypted (secrets.go) before it is
archived in the KV store under maand/certs/ca, using a key derived from
the bucket ID so no separate key file needs to exist on disk. Leaves are
reissued whenever they fall within the configured renewal window or the
CA itself has rotated - see NeedsRenewal, which pkg/certmgr calls for
every host and job certificate during a build.
*/
package security
