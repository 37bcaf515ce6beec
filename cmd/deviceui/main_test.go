package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/deviceui/internal/settings"
	"github.com/mattjoyce/deviceui/internal/state"
	"github.com/mattjoyce/deviceui/internal/storage"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

// writeTestConfig writes a config whose ui.command resolves on this machine.
func writeTestConfig(t *testing.T, command string) string {
	t.Helper()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configYAML := `
service:
  name: deviceui-test
  log_level: error
state:
  path: ./state.db
hub:
  url: nats://127.0.0.1:4222
ui:
  name: test_device_ui
  command: ["` + command + `"]
  first_run_env: DEVICEUI_TEST_FIRST_RUN_UNSET
screen:
  width: 1920
  height: 1080
  titlebar_height: 30
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	return configPath
}

func testExecutable(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return exe
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return run("frobnicate", nil)
	})
	if code != 1 {
		t.Fatalf("run() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr missing unknown command message: %s", stderr)
	}
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return run("version", nil)
	})
	if code != 0 {
		t.Fatalf("run(version) code = %d", code)
	}
	if !strings.Contains(stdout, "deviceui version "+version) {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestNounHelpAndMissingAction(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"help"})
	})
	if code != 0 || !strings.Contains(stdout, "Actions: check, show, get") {
		t.Fatalf("config help code = %d stdout = %q", code, stdout)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runSettingsNoun(nil)
	})
	if code != 1 || !strings.Contains(stderr, "Usage: deviceui settings") {
		t.Fatalf("settings without action code = %d stderr = %q", code, stderr)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runSystemNoun([]string{"reboot"})
	})
	if code != 1 || !strings.Contains(stderr, "Unknown system action: reboot") {
		t.Fatalf("unknown system action code = %d stderr = %q", code, stderr)
	}
}

func TestRunConfigGetAllowsFlagsAfterPath(t *testing.T) {
	configPath := writeTestConfig(t, testExecutable(t))

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigGet([]string{"ui.name", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigGet() code = %d, stderr: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "test_device_ui" {
		t.Fatalf("stdout = %q, want test_device_ui", stdout)
	}
}

func TestRunConfigGetMissingPath(t *testing.T) {
	configPath := writeTestConfig(t, testExecutable(t))

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigGet([]string{"ui.nope", "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("runConfigGet() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Error:") {
		t.Fatalf("stderr missing error: %s", stderr)
	}
}

func TestRunConfigShowNodeAsJSON(t *testing.T) {
	configPath := writeTestConfig(t, testExecutable(t))

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", configPath, "--json", "screen"})
	})
	if code != 0 {
		t.Fatalf("runConfigShow() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"titlebar_height": 30`) {
		t.Fatalf("stdout missing titlebar_height: %s", stdout)
	}
}

func TestRunConfigCheckValid(t *testing.T) {
	configPath := writeTestConfig(t, testExecutable(t))

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runConfigCheck() code = %d, stdout: %s stderr: %s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, `"valid": true`) {
		t.Fatalf("stdout missing valid result: %s", stdout)
	}
}

func TestRunConfigCheckMissingExecutable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-device-ui")
	configPath := writeTestConfig(t, missing)

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 1 {
		t.Fatalf("runConfigCheck() code = %d, want 1", code)
	}
	if !strings.Contains(stdout, "ui.command") {
		t.Fatalf("stdout missing ui.command error: %s", stdout)
	}
}

func TestRunSettingsShowAppliesDefaults(t *testing.T) {
	configPath := writeTestConfig(t, testExecutable(t))
	dbPath := filepath.Join(filepath.Dir(configPath), "state.db")

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := state.NewStore(db).Put(ctx, "test_device_ui", settings.AppSettings{settings.KeyX: int64(17)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = db.Close()

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSettingsShow([]string{"--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runSettingsShow() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"x": 17`) {
		t.Fatalf("stdout missing stored x: %s", stdout)
	}
	// Width falls back to half the configured screen.
	if !strings.Contains(stdout, `"width": 960`) {
		t.Fatalf("stdout missing default width: %s", stdout)
	}
}

func TestRunSettingsResetRequiresConfirmation(t *testing.T) {
	configPath := writeTestConfig(t, testExecutable(t))
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runSettingsReset([]string{"--config", configPath})
	})
	if code != 1 || !strings.Contains(stderr, "without --yes") {
		t.Fatalf("runSettingsReset() code = %d stderr = %q", code, stderr)
	}
}

func TestRunSettingsResetClearsStoredValues(t *testing.T) {
	configPath := writeTestConfig(t, testExecutable(t))
	dbPath := filepath.Join(filepath.Dir(configPath), "state.db")

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	store := state.NewStore(db)
	if err := store.Put(ctx, "test_device_ui", settings.AppSettings{settings.KeyX: int64(17)}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSettingsReset([]string{"--config", configPath, "--yes"})
	})
	if code != 0 {
		t.Fatalf("runSettingsReset() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Cleared stored settings for test_device_ui") {
		t.Fatalf("unexpected stdout: %s", stdout)
	}

	stored, err := store.Get(ctx, "test_device_ui")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected no stored settings, got %v", stored)
	}
	_ = db.Close()
}

func TestRunWatchNeedsEnabledAPI(t *testing.T) {
	t.Setenv("DEVICEUI_API_KEY", "")
	configPath := writeTestConfig(t, testExecutable(t))

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemNoun([]string{"watch", "--config", configPath})
	})
	if code != 1 || !strings.Contains(stderr, "api.enabled is false") {
		t.Fatalf("watch code = %d stderr = %q", code, stderr)
	}
}

func TestRunWatchNeedsAPIKey(t *testing.T) {
	t.Setenv("DEVICEUI_API_KEY", "")
	configPath := writeTestConfig(t, testExecutable(t))

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runWatch([]string{"--config", configPath, "--api-url", "http://127.0.0.1:1"})
	})
	if code != 1 || !strings.Contains(stderr, "API key required") {
		t.Fatalf("watch code = %d stderr = %q", code, stderr)
	}
}

func TestAPIURLFromListen(t *testing.T) {
	cases := []struct {
		listen string
		want   string
	}{
		{":8080", "http://127.0.0.1:8080"},
		{"0.0.0.0:9000", "http://127.0.0.1:9000"},
		{"[::]:9000", "http://127.0.0.1:9000"},
		{"192.168.1.20:8080", "http://192.168.1.20:8080"},
		{"[::1]:8080", "http://[::1]:8080"},
	}
	for _, tc := range cases {
		got, err := apiURLFromListen(tc.listen)
		if err != nil {
			t.Fatalf("apiURLFromListen(%q): %v", tc.listen, err)
		}
		if got != tc.want {
			t.Fatalf("apiURLFromListen(%q) = %q, want %q", tc.listen, got, tc.want)
		}
	}

	if _, err := apiURLFromListen("8080"); err == nil {
		t.Fatal("expected error for address without port separator")
	}
}
