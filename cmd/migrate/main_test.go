package main

import (
	"flag"
	"io"
	"strings"
	"testing"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{name: "up", args: []string{"-up"}, want: "up"},
		{name: "steps", args: []string{"-steps", "-2"}, want: "steps"},
		{name: "force zero", args: []string{"-force", "0"}, want: "force"},
		{name: "version", args: []string{"-version"}, want: "version"},
		{name: "up false is no action", args: []string{"-up=false"}, wantErr: "no action"},
		{name: "none", args: nil, wantErr: "no action"},
		{name: "two actions", args: []string{"-up", "-version"}, wantErr: "choose one action"},
		{name: "unknown flag", args: []string{"-sideways"}, wantErr: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
			fs.SetOutput(io.Discard)

			act, err := parseAction(fs, tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAction: %v", err)
			}
			if act.name != tt.want {
				t.Errorf("action = %q, want %q", act.name, tt.want)
			}
		})
	}
}

func TestResolveURLPrefersFlagThenEnv(t *testing.T) {
	t.Setenv(envURL, "postgres://env/db")

	if got, _ := resolveURL("postgres://flag/db"); got != "postgres://flag/db" {
		t.Errorf("flag url = %q", got)
	}
	if got, _ := resolveURL(""); got != "postgres://env/db" {
		t.Errorf("env url = %q", got)
	}
}

func TestResolveURLRejectsMemoryStore(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(envURL, "")
	t.Setenv("GRADEOS_STORE", "memory")
	t.Setenv("GRADEOS_STORAGE_PROVIDER", "memory")

	if _, err := resolveURL(""); err == nil || !strings.Contains(err.Error(), "nothing to migrate") {
		t.Errorf("err = %v, want nothing to migrate", err)
	}
}
