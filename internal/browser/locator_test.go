package browser_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/crawlinknetworks/tray/internal/browser"
	"github.com/crawlinknetworks/tray/internal/system"
	"github.com/crawlinknetworks/tray/pkg/logging"
)

type executedCommand struct {
	executable string
	arguments  []string
}

type recordingCommandRunner struct {
	executed []executedCommand
	outputs  []string
	outErrs  []error
}

func (runner *recordingCommandRunner) Run(_ context.Context, executable string, arguments []string) error {
	runner.executed = append(runner.executed, executedCommand{executable: executable, arguments: arguments})
	return nil
}

func (runner *recordingCommandRunner) Output(_ context.Context, executable string, arguments []string) (string, error) {
	runner.executed = append(runner.executed, executedCommand{executable: executable, arguments: arguments})
	var output string
	if len(runner.outputs) > 0 {
		output = runner.outputs[0]
		runner.outputs = runner.outputs[1:]
	}
	if len(runner.outErrs) > 0 {
		err := runner.outErrs[0]
		runner.outErrs = runner.outErrs[1:]
		return output, err
	}
	return output, nil
}

func newTestLocator(platform browser.Platform, runner *recordingCommandRunner) browser.Locator {
	return browser.NewLocator(platform, system.NewOperatingSystemFileSystem(), runner, logging.NewTestService(logging.TypeConsole))
}

func testAlias() browser.Alias {
	return browser.Alias{
		Name:             "Firefox",
		Vendor:           "Mozilla",
		BundleIdentifier: "org.mozilla.firefox",
		ExecutableName:   "firefox",
		MacBundleName:    "Firefox.app",
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLocateReadsVersionFromApplicationIni(t *testing.T) {
	installRoot := filepath.Join(t.TempDir(), "firefox")
	mustMkdir(t, installRoot)
	mustWriteFile(t, filepath.Join(installRoot, "firefox"), "#!/bin/sh\n")
	mustWriteFile(t, filepath.Join(installRoot, "application.ini"), "[XRE]\nEnableProfileMigrator=1\n\n[App]\nVendor=Mozilla\nName=Firefox\nVersion=115.0.1\n")

	runner := &recordingCommandRunner{}
	locator := newTestLocator(browser.PlatformLinux, runner).WithAdditionalInstallRoots(installRoot)

	instances := locator.Locate(context.Background(), testAlias())
	if len(instances) != 1 {
		t.Fatalf("expected one instance, got %d", len(instances))
	}
	instance := instances[0]
	if instance.InstallPath != installRoot {
		t.Fatalf("unexpected install path: %q", instance.InstallPath)
	}
	if instance.ExecutablePath != filepath.Join(installRoot, "firefox") {
		t.Fatalf("unexpected executable path: %q", instance.ExecutablePath)
	}
	if !instance.HasVersion() || instance.Version.String() != "115.0.1" {
		t.Fatalf("unexpected version: %v", instance.Version)
	}
	if len(runner.executed) != 0 {
		t.Fatalf("expected no command execution, got %v", runner.executed)
	}
}

func TestLocateFallsBackToExecutableVersionOutput(t *testing.T) {
	installRoot := filepath.Join(t.TempDir(), "firefox")
	mustMkdir(t, installRoot)
	mustWriteFile(t, filepath.Join(installRoot, "firefox"), "#!/bin/sh\n")

	runner := &recordingCommandRunner{outputs: []string{"Mozilla Firefox 128.0.2"}}
	locator := newTestLocator(browser.PlatformLinux, runner).WithAdditionalInstallRoots(installRoot)

	instances := locator.Locate(context.Background(), testAlias())
	if len(instances) != 1 {
		t.Fatalf("expected one instance, got %d", len(instances))
	}
	if !instances[0].HasVersion() || instances[0].Version.String() != "128.0.2" {
		t.Fatalf("unexpected version: %v", instances[0].Version)
	}
	if len(runner.executed) != 1 || runner.executed[0].arguments[0] != "--version" {
		t.Fatalf("unexpected executions: %v", runner.executed)
	}
}

func TestLocateKeepsInstanceWhenVersionDetectionFails(t *testing.T) {
	installRoot := filepath.Join(t.TempDir(), "firefox")
	mustMkdir(t, installRoot)
	mustWriteFile(t, filepath.Join(installRoot, "firefox"), "#!/bin/sh\n")

	runner := &recordingCommandRunner{outErrs: []error{errors.New("exec format error")}}
	locator := newTestLocator(browser.PlatformLinux, runner).WithAdditionalInstallRoots(installRoot)

	instances := locator.Locate(context.Background(), testAlias())
	if len(instances) != 1 {
		t.Fatalf("expected one instance, got %d", len(instances))
	}
	if instances[0].HasVersion() {
		t.Fatalf("expected version to be absent, got %v", instances[0].Version)
	}
}

func TestLocateSkipsRootsWithoutExecutable(t *testing.T) {
	installRoot := filepath.Join(t.TempDir(), "firefox")
	mustMkdir(t, installRoot)

	runner := &recordingCommandRunner{}
	locator := newTestLocator(browser.PlatformLinux, runner).WithAdditionalInstallRoots(installRoot)

	instances := locator.Locate(context.Background(), testAlias())
	if len(instances) != 0 {
		t.Fatalf("expected no instances, got %d", len(instances))
	}
}

func TestLocateResolvesMacBundleLayout(t *testing.T) {
	bundleRoot := filepath.Join(t.TempDir(), "Firefox.app")
	mustMkdir(t, filepath.Join(bundleRoot, "Contents", "MacOS"))
	mustMkdir(t, filepath.Join(bundleRoot, "Contents", "Resources"))
	mustWriteFile(t, filepath.Join(bundleRoot, "Contents", "MacOS", "firefox"), "#!/bin/sh\n")
	mustWriteFile(t, filepath.Join(bundleRoot, "Contents", "Resources", "application.ini"), "[App]\nVersion=121.0.0\n")

	runner := &recordingCommandRunner{}
	locator := newTestLocator(browser.PlatformMac, runner).WithAdditionalInstallRoots(bundleRoot)

	instances := locator.Locate(context.Background(), testAlias())
	if len(instances) != 1 {
		t.Fatalf("expected one instance, got %d", len(instances))
	}
	if instances[0].ExecutablePath != filepath.Join(bundleRoot, "Contents", "MacOS", "firefox") {
		t.Fatalf("unexpected executable path: %q", instances[0].ExecutablePath)
	}
	if !instances[0].HasVersion() || instances[0].Version.String() != "121.0.0" {
		t.Fatalf("unexpected version: %v", instances[0].Version)
	}
}

func TestRunningPathsIntersectsProcessList(t *testing.T) {
	executablePath := "/usr/lib/firefox/firefox"
	runner := &recordingCommandRunner{outputs: []string{executablePath + " -foreground\n/usr/bin/bash\n"}}
	locator := newTestLocator(browser.PlatformLinux, runner)

	instances := []browser.Instance{{Name: "Firefox", ExecutablePath: executablePath}}
	running := locator.RunningPaths(context.Background(), instances)
	if !running[executablePath] {
		t.Fatalf("expected %q to be running", executablePath)
	}
}

func TestRunningPathsMatchesWindowsPathsCaseInsensitively(t *testing.T) {
	executablePath := `C:\Program Files\Mozilla Firefox\firefox.exe`
	runner := &recordingCommandRunner{outputs: []string{`c:\program files\mozilla firefox\FIREFOX.EXE` + "\n"}}
	locator := newTestLocator(browser.PlatformWindows, runner)

	instances := []browser.Instance{{Name: "Firefox", ExecutablePath: executablePath}}
	running := locator.RunningPaths(context.Background(), instances)
	if !running[executablePath] {
		t.Fatalf("expected %q to be running", executablePath)
	}
}

func TestRunningPathsReturnsEmptySetOnListingFailure(t *testing.T) {
	runner := &recordingCommandRunner{outErrs: []error{errors.New("ps unavailable")}}
	locator := newTestLocator(browser.PlatformLinux, runner)

	instances := []browser.Instance{{Name: "Firefox", ExecutablePath: "/usr/lib/firefox/firefox"}}
	running := locator.RunningPaths(context.Background(), instances)
	if len(running) != 0 {
		t.Fatalf("expected empty set, got %v", running)
	}
}

func TestVendorlessNameStripsVendorPrefix(t *testing.T) {
	testCases := []struct {
		name     string
		alias    browser.Alias
		expected string
	}{
		{name: "prefixed", alias: browser.Alias{Name: "Mozilla Firefox", Vendor: "Mozilla"}, expected: "Firefox"},
		{name: "unprefixed", alias: browser.Alias{Name: "Firefox", Vendor: "Mozilla"}, expected: "Firefox"},
		{name: "vendor only", alias: browser.Alias{Name: "Waterfox", Vendor: "Waterfox"}, expected: "Waterfox"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if actual := testCase.alias.VendorlessName(); actual != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, actual)
			}
		})
	}
}
