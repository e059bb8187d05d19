package workspace

import "testing"

func TestParseDotenv(t *testing.T) {
	path := writeTempFile(t, "maand.vars", "# comment\nREGION=us-east-1\nCLUSTER_NAME=\"prod cluster\"\nEMPTY=\n")
	vars, err := ParseDotenv(path)
	if err != nil {
		t.Fatalf("ParseDotenv: %v", err)
	}
	if vars["REGION"] != "us-east-1" {
		t.Errorf("expected REGION=us-east-1, got %q", vars["REGION"])
	}
	if vars["CLUSTER_NAME"] != "prod cluster" {
		t.Errorf("expected unquoted value, got %q", vars["CLUSTER_NAME"])
	}
	if vars["EMPTY"] != "" {
		t.Errorf("expected empty value, got %q", vars["EMPTY"])
	}
}

func TestParseDotenvMissingFile(t *testing.T) {
	vars, err := ParseDotenv("/nonexistent/maand.vars")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(vars) != 0 {
		t.Errorf("expected empty map, got %v", vars)
	}
}
