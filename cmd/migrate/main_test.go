package main

import "testing"

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		ok       bool
		version  int
		name     string
	}{
		{"0001_init.sql", true, 1, "init"},
		{"0042_add_rule_constraints.sql", true, 42, "add_rule_constraints"},
		{"001_short_version.sql", false, 0, ""},
		{"0001_missing_extension", false, 0, ""},
		{"0001.sql", false, 0, ""},
		{"init_0001.sql", false, 0, ""},
		{"README.md", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationName(tt.filename)
			if ok != tt.ok {
				t.Fatalf("parseMigrationName(%q) ok = %v, want %v", tt.filename, ok, tt.ok)
			}
			if !ok {
				return
			}
			if version != tt.version {
				t.Errorf("version = %d, want %d", version, tt.version)
			}
			if name != tt.name {
				t.Errorf("name = %q, want %q", name, tt.name)
			}
		})
	}
}
