package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseValidConfig(t *testing.T) {
	yaml := `
version: 1
server: https://ops.example.com
session_file: /var/lib/opsconsole/session.yaml
handshake_timeout: 10s
transfer_window: 8192
journal:
  enabled: true
  identifier: ops-logs
`
	c, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if c.Server != "https://ops.example.com" {
		t.Errorf("server: got %q", c.Server)
	}
	if c.Timeout() != 10*time.Second {
		t.Errorf("timeout: got %v", c.Timeout())
	}
	if c.TransferWindow != 8192 {
		t.Errorf("transfer window: got %d", c.TransferWindow)
	}
	if !c.Journal.Enabled || c.Journal.Identifier != "ops-logs" {
		t.Errorf("journal: got %+v", c.Journal)
	}
	if errs := Validate(c); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestParseKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte("version: 1\nserver: http://ops.local\n"))
	if err != nil {
		t.Fatal(err)
	}
	d := Default()
	if c.TransferWindow != d.TransferWindow {
		t.Errorf("transfer window: got %d, want default %d", c.TransferWindow, d.TransferWindow)
	}
	if c.SessionFile != d.SessionFile {
		t.Errorf("session file: got %q, want default %q", c.SessionFile, d.SessionFile)
	}
	if c.Journal.Identifier != "opsconsole" {
		t.Errorf("journal identifier: got %q", c.Journal.Identifier)
	}
}

func TestHomeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	for _, in := range []string{"~/ops/session.yaml", "${home}/ops/session.yaml"} {
		c, err := Parse([]byte("version: 1\nserver: http://x\nsession_file: " + in + "\n"))
		if err != nil {
			t.Fatal(err)
		}
		want := filepath.Join(home, "ops", "session.yaml")
		if c.SessionFile != want {
			t.Errorf("%s: got %q, want %q", in, c.SessionFile, want)
		}
	}
}

func TestDefaultIsValid(t *testing.T) {
	if errs := Validate(Default()); len(errs) != 0 {
		t.Errorf("default config invalid: %v", errs)
	}
}

func TestValidateVersionMustBe1(t *testing.T) {
	c := Default()
	c.Version = 2
	assertHasError(t, Validate(c), "version must be 1")
}

func TestValidateServer(t *testing.T) {
	tests := []struct {
		server string
		substr string
	}{
		{"", "server is required"},
		{"ftp://ops.example.com", "scheme must be"},
		{"https://", "host is required"},
		{"ops.example.com", "scheme must be"},
	}
	for _, tt := range tests {
		c := Default()
		c.Server = tt.server
		assertHasError(t, Validate(c), tt.substr)
	}
}

func TestValidateTimeout(t *testing.T) {
	c := Default()
	c.HandshakeTimeout = "soon"
	assertHasError(t, Validate(c), "handshake_timeout")

	c.HandshakeTimeout = "-1s"
	assertHasError(t, Validate(c), "must be positive")

	c.HandshakeTimeout = ""
	if errs := Validate(c); len(errs) != 0 {
		t.Errorf("empty timeout should be allowed: %v", errs)
	}
	if c.Timeout() != 0 {
		t.Errorf("empty timeout: got %v, want 0", c.Timeout())
	}
}

func TestValidateTransferWindow(t *testing.T) {
	c := Default()
	c.TransferWindow = 0
	assertHasError(t, Validate(c), "transfer_window")
}

func TestValidateJournalIdentifier(t *testing.T) {
	c := Default()
	c.Journal = JournalConfig{Enabled: true}
	assertHasError(t, Validate(c), "journal.identifier")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)
	c := Default()
	c.Server = "https://ops.example.com"
	if err := Save(c, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server != c.Server || loaded.FilePath != path {
		t.Errorf("round-trip mismatch: %+v", loaded)
	}
}

func TestLoadOrDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	c, err := LoadOrDefault(path)
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if c.Server != Default().Server || c.FilePath != path {
		t.Errorf("unexpected fallback: %+v", c)
	}

	if err := os.WriteFile(path, []byte("version: [1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrDefault(path); err == nil {
		t.Error("expected parse error for corrupt file")
	}
}

func assertHasError(t *testing.T, errs []error, substr string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e.Error(), substr) {
			return
		}
	}
	t.Errorf("expected error containing %q, got: %v", substr, errs)
}
