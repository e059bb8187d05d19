package workspace

import "testing"

func TestExtractSizeMB(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"512 MB", 512},
		{"512MB", 512},
		{"2 GB", 2048},
		{"1TB", 1024 * 1024},
		{"256", 256},
		{"", 0},
	}
	for _, c := range cases {
		got, err := ExtractSizeMB(c.in)
		if err != nil {
			t.Errorf("ExtractSizeMB(%q) returned error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ExtractSizeMB(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestExtractSizeMBInvalid(t *testing.T) {
	if _, err := ExtractSizeMB("512 PB"); err == nil {
		t.Error("expected error for unsupported unit")
	}
	if _, err := ExtractSizeMB("not-a-size"); err == nil {
		t.Error("expected error for malformed size string")
	}
}

func TestExtractCPUMHz(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"500 MHZ", 500},
		{"2 GHZ", 2000},
		{"1 THZ", 1_000_000},
		{"1500", 1500},
	}
	for _, c := range cases {
		got, err := ExtractCPUMHz(c.in)
		if err != nil {
			t.Errorf("ExtractCPUMHz(%q) returned error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ExtractCPUMHz(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
