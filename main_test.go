package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/soocke/qrdial-go/config"
	"github.com/soocke/qrdial-go/failure"
)

func runCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()
	cmd := NewCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	base := []string{"--config", filepath.Join(dir, "qrdial.json"), "--env-file", filepath.Join(dir, ".env"), "--log-level", "error"}
	cmd.SetArgs(append(args, base...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestExtractCommand_Args(t *testing.T) {
	out, _, err := runCommand(t, "", "extract", "tel:+1-202-555-0172")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out != "+12025550172\n" {
		t.Fatalf("output %q", out)
	}
}

func TestExtractCommand_Stdin(t *testing.T) {
	out, errOut, err := runCommand(t, "phone: 555 123 4567\nno digits here\n", "extract")
	if out != "5551234567\n" {
		t.Fatalf("output %q", out)
	}
	var r reportedError
	if !errors.As(err, &r) || !errors.Is(err, failure.ErrExtractionFailed) {
		t.Fatalf("expected a reported extraction failure, got %v", err)
	}
	if !strings.Contains(errOut, "no digits here") {
		t.Fatalf("miss not reported: %q", errOut)
	}
}

func TestExtractCommand_Lenient(t *testing.T) {
	in := "Event 2024-05-01, room 1234"
	if _, _, err := runCommand(t, "", "extract", in); err == nil {
		t.Fatalf("default mode should not glue digit runs")
	}
	out, _, err := runCommand(t, "", "extract", "--lenient", in)
	if err != nil || out != "+202405011234\n" {
		t.Fatalf("lenient output %q, %v", out, err)
	}
}

func TestConfigShow(t *testing.T) {
	out, _, err := runCommand(t, "", "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if cfg.PollIntervalMs != 200 || cfg.HandoffScheme != "sms" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := parseLevel("DEBUG"); err != nil || l != slog.LevelDebug {
		t.Fatalf("parseLevel = %v, %v", l, err)
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestHandleCmdError_SkipsReported(t *testing.T) {
	// Only checks that reported errors stay wrapped; output goes to stderr.
	err := reported(failure.New(failure.EmptyMessage, nil))
	var r reportedError
	if !errors.As(err, &r) {
		t.Fatalf("failure not marked as reported")
	}
	if plain := reported(errors.New("boom")); errors.As(plain, &r) {
		t.Fatalf("plain error marked as reported")
	}
}
