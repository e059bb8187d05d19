package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maand-sh/maand/pkg/errs"
)

func TestLoadJobManifest(t *testing.T) {
	manifest := `{
	  "version": "1.0.0",
	  "labels": ["web", "edge"],
	  "resources": {
	    "memory": {"min": "256 MB", "max": "512 MB"},
	    "cpu": {"min": "500 MHZ", "max": "1 GHZ"},
	    "ports": {"port_http": 8080}
	  },
	  "certs": [
	    {"server": {"pkcs8": true, "subject": "/CN=web", "subject_alt_name": "web.internal"}}
	  ],
	  "commands": {
	    "command_start": {"executed_on": ["job_control"]},
	    "command_configure": {"executed_on": ["pre_deploy"], "depend_on": {"job": "db", "command": "migrate"}}
	  }
	}`
	path := writeTempFile(t, "manifest.json", manifest)

	m, err := LoadJobManifest("web", path)
	if err != nil {
		t.Fatalf("LoadJobManifest: %v", err)
	}
	if m.Name != "web" || m.Version != "1.0.0" {
		t.Errorf("unexpected name/version: %+v", m)
	}
	if m.Resources.Ports["http"] != 8080 {
		t.Errorf("expected port http=8080, got %v", m.Resources.Ports)
	}
	if len(m.Certs) != 1 || m.Certs[0].Name != "server" {
		t.Fatalf("expected one cert named server, got %+v", m.Certs)
	}
	if len(m.Commands) != 2 {
		t.Fatalf("expected two commands, got %d", len(m.Commands))
	}
}

func TestLoadJobManifestRejectsBadCommandKey(t *testing.T) {
	path := writeTempFile(t, "manifest.json", `{"commands": {"start": {"executed_on": []}}}`)
	_, err := LoadJobManifest("web", path)
	if err == nil {
		t.Fatal("expected error for command key without command_ prefix")
	}
	if !errs.New(errs.KindSchemaValidation, nil).Is(err) {
		t.Errorf("expected a SchemaValidationError, got %v", err)
	}
}

func TestLoadJobManifestRejectsInvalidEvent(t *testing.T) {
	path := writeTempFile(t, "manifest.json", `{"commands": {"command_start": {"executed_on": ["not_a_real_event"]}}}`)
	_, err := LoadJobManifest("web", path)
	if err == nil {
		t.Fatal("expected error for invalid executed_on value")
	}
}

func TestWalkJobFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "_modules", "start"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "_modules", "start", "run.sh"), []byte("#!/bin/sh"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte("a: b"), 0644); err != nil {
		t.Fatal(err)
	}

	files, err := WalkJobFiles(dir)
	if err != nil {
		t.Fatalf("WalkJobFiles: %v", err)
	}

	var sawModule, sawConfig bool
	for _, f := range files {
		if f.Path == filepath.Join("_modules", "start", "run.sh") {
			sawModule = true
			if !f.IsModule() {
				t.Error("expected run.sh under _modules to report IsModule() true")
			}
		}
		if f.Path == "config.yml" {
			sawConfig = true
			if f.IsModule() {
				t.Error("config.yml should not report IsModule() true")
			}
		}
	}
	if !sawModule || !sawConfig {
		t.Fatalf("expected to see both module and config file, got %+v", files)
	}
}
