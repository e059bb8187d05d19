package vars

import "testing"

func TestIsReservedKey(t *testing.T) {
	reserved := []string{"job", "BUCKET", "update_seq", "worker_nodes", "worker_peers",
		"worker_length", "worker_label_id", "worker_allocation_index", "worker_0", "db_12"}
	for _, k := range reserved {
		if !IsReservedKey(k) {
			t.Errorf("expected %q to be reserved", k)
		}
	}

	notReserved := []string{"region", "memory", "port_http", "worker_count"}
	for _, k := range notReserved {
		if IsReservedKey(k) {
			t.Errorf("expected %q not to be reserved", k)
		}
	}
}

func TestValidateWriteKeyRejectsUppercase(t *testing.T) {
	if err := ValidateWriteKey("Region"); err == nil {
		t.Error("expected error for non-lowercase key")
	}
	if err := ValidateWriteKey("region"); err != nil {
		t.Errorf("unexpected error for valid key: %v", err)
	}
}

func TestValidateWriteKeyRejectsReserved(t *testing.T) {
	if err := ValidateWriteKey("job"); err == nil {
		t.Error("expected error for reserved key")
	}
}
