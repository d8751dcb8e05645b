package browser

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/crawlinknetworks/tray/internal/system"
	"github.com/crawlinknetworks/tray/pkg/logging"
)

const applicationIniFileName = "application.ini"

// Locator discovers installed instances of an alias by probing well-known
// install roots and resolving each install's version.
type Locator struct {
	platform        Platform
	fileSystem      system.FileSystem
	commandRunner   system.CommandRunner
	logs            *logging.Service
	additionalRoots []string
}

// NewLocator constructs a Locator for the given platform.
func NewLocator(platform Platform, fileSystem system.FileSystem, commandRunner system.CommandRunner, logs *logging.Service) Locator {
	return Locator{
		platform:      platform,
		fileSystem:    fileSystem,
		commandRunner: commandRunner,
		logs:          logs,
	}
}

// WithAdditionalInstallRoots returns a Locator that also probes the given
// install roots for every alias.
func (locator Locator) WithAdditionalInstallRoots(roots ...string) Locator {
	locator.additionalRoots = append(append([]string{}, locator.additionalRoots...), roots...)
	return locator
}

// Locate returns every installed instance of the alias. Instances whose
// version cannot be resolved are still returned, with a nil version.
func (locator Locator) Locate(ctx context.Context, alias Alias) []Instance {
	var instances []Instance
	for _, installRoot := range locator.candidateInstallRoots(alias) {
		executablePath := locator.executablePath(installRoot, alias)
		exists, existsErr := locator.fileSystem.FileExists(executablePath)
		if existsErr != nil || !exists {
			continue
		}
		instances = append(instances, Instance{
			Name:             alias.Name,
			Vendor:           alias.Vendor,
			VendorlessName:   alias.VendorlessName(),
			BundleIdentifier: alias.BundleIdentifier,
			InstallPath:      installRoot,
			ExecutablePath:   executablePath,
			Version:          locator.detectVersion(ctx, installRoot, executablePath),
		})
	}
	return instances
}

// RunningPaths returns the executable paths of the given instances that
// appear in the current process list. A process listing failure yields an
// empty set with a warning.
func (locator Locator) RunningPaths(ctx context.Context, instances []Instance) map[string]bool {
	runningPaths := map[string]bool{}
	processPaths, err := locator.listProcessPaths(ctx)
	if err != nil {
		locator.logs.Warn("could not list running processes", logging.ErrorField(err))
		return runningPaths
	}
	for _, instance := range instances {
		for _, processPath := range processPaths {
			if locator.pathsEqual(instance.ExecutablePath, processPath) {
				runningPaths[instance.ExecutablePath] = true
				break
			}
		}
	}
	return runningPaths
}

func (locator Locator) candidateInstallRoots(alias Alias) []string {
	var candidates []string
	switch locator.platform {
	case PlatformWindows:
		candidates = []string{
			filepath.Join(`C:\Program Files`, alias.WindowsFolder),
			filepath.Join(`C:\Program Files (x86)`, alias.WindowsFolder),
		}
	case PlatformMac:
		candidates = []string{filepath.Join("/Applications", alias.MacBundleName)}
	default:
		candidates = append(candidates, alias.LinuxInstallRoots...)
	}
	return append(candidates, locator.additionalRoots...)
}

func (locator Locator) executablePath(installRoot string, alias Alias) string {
	switch locator.platform {
	case PlatformWindows:
		return filepath.Join(installRoot, alias.ExecutableName+".exe")
	case PlatformMac:
		return filepath.Join(installRoot, "Contents", "MacOS", alias.ExecutableName)
	default:
		return filepath.Join(installRoot, alias.ExecutableName)
	}
}

func (locator Locator) detectVersion(ctx context.Context, installRoot string, executablePath string) *semver.Version {
	iniPath := filepath.Join(locator.platform.ResourcesRoot(installRoot), applicationIniFileName)
	iniExists, existsErr := locator.fileSystem.FileExists(iniPath)
	if existsErr == nil && iniExists {
		content, readErr := locator.fileSystem.ReadFile(iniPath)
		if readErr == nil {
			if version := parseApplicationIniVersion(string(content)); version != nil {
				return version
			}
		}
	}

	output, outputErr := locator.commandRunner.Output(ctx, executablePath, []string{"--version"})
	if outputErr != nil {
		return nil
	}
	return parseVersionFromFields(output)
}

func (locator Locator) listProcessPaths(ctx context.Context) ([]string, error) {
	var output string
	var err error
	switch locator.platform {
	case PlatformWindows:
		output, err = locator.commandRunner.Output(ctx, "powershell.exe", []string{"-NoProfile", "-Command", "Get-Process | Select-Object -ExpandProperty Path"})
	case PlatformMac:
		output, err = locator.commandRunner.Output(ctx, "ps", []string{"-axo", "comm="})
	default:
		output, err = locator.commandRunner.Output(ctx, "ps", []string{"-axo", "args="})
	}
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if locator.platform == PlatformLinux {
			trimmed = strings.Fields(trimmed)[0]
		}
		paths = append(paths, trimmed)
	}
	return paths, nil
}

func (locator Locator) pathsEqual(first string, second string) bool {
	if locator.platform == PlatformWindows {
		return strings.EqualFold(first, second)
	}
	return first == second
}

// parseApplicationIniVersion extracts Version from the [App] section of an
// application.ini document.
func parseApplicationIniVersion(content string) *semver.Version {
	inAppSection := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			inAppSection = strings.EqualFold(trimmed, "[App]")
			continue
		}
		if !inAppSection {
			continue
		}
		key, value, found := strings.Cut(trimmed, "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "Version") {
			continue
		}
		version, err := semver.NewVersion(strings.TrimSpace(value))
		if err != nil {
			return nil
		}
		return version
	}
	return nil
}

// parseVersionFromFields finds the last whitespace-separated field that
// parses as a version, matching output such as "Mozilla Firefox 128.0.2".
func parseVersionFromFields(output string) *semver.Version {
	fields := strings.Fields(output)
	for index := len(fields) - 1; index >= 0; index-- {
		version, err := semver.NewVersion(fields[index])
		if err == nil {
			return version
		}
	}
	return nil
}
