package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfig = `{
  "logging": {"level": "error"},
  "devices": [{"index": 0, "driver": "dryrun"}],
  "timelines": [{
    "name": "t",
    "duration": 0.02,
    "actions": [{"offset": 0, "index": 0, "payload": "G C0 I10 T200"}]
  }]
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "emsctl.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestValidateCommand(t *testing.T) {
	p := writeTestConfig(t, testConfig)
	out, err := execute(t, "validate", "--config", p)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "G C0 I10 T200") || !strings.Contains(out, "config ok: 1 devices, 1 timelines, 1 actions") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestValidateCommandReportsErrors(t *testing.T) {
	p := writeTestConfig(t, `{"devices": [{"index": 0, "driver": "serial"}]}`)
	if _, err := execute(t, "validate", "-c", p); err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestRunCommand(t *testing.T) {
	p := writeTestConfig(t, testConfig)
	if _, err := execute(t, "run", "--config", p, "--repeat", "2", "--dry-run"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := execute(t, "run", "--config", p, "--repeat", "0"); err == nil {
		t.Fatalf("expected --repeat 0 to be rejected")
	}
}

func TestStimCommandUnknownDevice(t *testing.T) {
	p := writeTestConfig(t, testConfig)
	if _, err := execute(t, "stim", "-c", p, "--device", "4"); err == nil {
		t.Fatalf("expected error for unknown device")
	}
}
