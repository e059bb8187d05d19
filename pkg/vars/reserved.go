// Package vars implements the variable composer (spec.md §4.G): the
// per-host and per-job variable namespaces rendered templates and command
// plugins read, plus the reserved-key validation shared by the composer
// itself and the command executor's kv_put gate (spec.md §9 design note:
// "enforced by the Variable Composer at write time, not only by the
// renderer").
package vars

import (
	"regexp"
	"strings"
)

// reservedExact is the derived-name family spawned commands always see as
// environment variables (spec.md §6), lowercased since all KV keys are
// lowercase by convention.
var reservedExact = map[string]bool{
	"job": true, "command": true, "event": true, "target": true,
	"allocation_ip": true, "allocation_id": true, "agent_ip": true,
	"agent_dir": true, "ssh_user": true, "ssh_key": true, "use_sudo": true,
	"bucket": true, "update_seq": true, "disabled": true,
}

var reservedSuffixes = []string{"_nodes", "_peers", "_length", "_label_id", "_allocation_index"}

var labelIndexSuffix = regexp.MustCompile(`_\d+$`)

// IsReservedKey reports whether key collides with one of the controller's
// derived variable names: the fixed environment-variable family, or any
// <label>_{nodes,peers,length,label_id,allocation_index,<index>} shape a
// label could produce.
func IsReservedKey(key string) bool {
	key = strings.ToLower(key)
	if reservedExact[key] {
		return true
	}
	for _, suffix := range reservedSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return labelIndexSuffix.MatchString(key)
}

// Lowercase normalizes a key to the canonical form the KV store and
// command executor expect (spec.md §9: "lower-case keys").
func Lowercase(key string) string {
	return strings.ToLower(key)
}

// ValidateWriteKey enforces the command executor's kv_put gate (spec.md
// §4.K): the key must already be in its own lowercase form, and must not
// collide with a reserved derived name.
func ValidateWriteKey(key string) error {
	if key != Lowercase(key) {
		return &KeyError{Key: key, Reason: "key must be lowercase"}
	}
	if IsReservedKey(key) {
		return &KeyError{Key: key, Reason: "key collides with a reserved derived variable name"}
	}
	return nil
}

// KeyError reports a rejected variable or KV key.
type KeyError struct {
	Key    string
	Reason string
}

func (e *KeyError) Error() string {
	return "invalid key " + e.Key + ": " + e.Reason
}
