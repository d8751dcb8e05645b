// Package truststore places the root certificate authority into operating
// system trust stores. Browser policy that imports enterprise roots only
// trusts what the OS store already holds, so installs run this step first.
package truststore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/crawlinknetworks/tray/internal/product"
	"github.com/crawlinknetworks/tray/internal/system"
)

const (
	commandNameSecurity           = "security"
	commandNameCertutil           = "certutil"
	commandNameTrust              = "trust"
	commandNameUpdateCertificates = "update-ca-certificates"

	defaultLinuxCertificateDestination = "/usr/local/share/ca-certificates/" + product.FileBase + "-root-ca.crt"
)

// lookupExecutable resolves tool availability. Swapped in tests.
var lookupExecutable = exec.LookPath

// Installer provisions and removes certificates from operating system trust
// stores.
type Installer interface {
	Install(ctx context.Context, certificatePath string) error
	Uninstall(ctx context.Context) error
}

// Configuration controls installer behavior across platforms.
type Configuration struct {
	CertificateCommonName           string
	MacOSKeychainPath               string
	LinuxCertificateDestinationPath string
	LinuxCertificateFilePermissions fs.FileMode
	WindowsCertificateStoreName     string
	LegacyProfileDirectories        []string
}

type installerFactory func(commandRunner system.CommandRunner, fileSystem system.FileSystem, configuration Configuration) (Installer, error)

var supportedFactories = map[string]installerFactory{
	"darwin":  newMacOSInstaller,
	"linux":   newLinuxInstaller,
	"windows": newWindowsInstaller,
}

// NewInstaller constructs the trust store installer for the running
// operating system.
func NewInstaller(commandRunner system.CommandRunner, fileSystem system.FileSystem, configuration Configuration) (Installer, error) {
	factory, found := supportedFactories[runtime.GOOS]
	if !found {
		return nil, fmt.Errorf("unsupported operating system %s", runtime.GOOS)
	}
	return factory(commandRunner, fileSystem, configuration)
}

type macOSInstaller struct {
	commandRunner system.CommandRunner
	fileSystem    system.FileSystem
	configuration Configuration
}

func newMacOSInstaller(commandRunner system.CommandRunner, fileSystem system.FileSystem, configuration Configuration) (Installer, error) {
	if configuration.CertificateCommonName == "" {
		return nil, errors.New("macos installer requires certificate common name")
	}
	keychainPath := configuration.MacOSKeychainPath
	if keychainPath == "" {
		homeDirectory, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return nil, fmt.Errorf("resolve home directory: %w", homeErr)
		}
		keychainPath = filepath.Join(homeDirectory, "Library", "Keychains", "login.keychain-db")
	}
	configuration.MacOSKeychainPath = keychainPath
	return &macOSInstaller{
		commandRunner: commandRunner,
		fileSystem:    fileSystem,
		configuration: configuration,
	}, nil
}

func (installer *macOSInstaller) Install(ctx context.Context, certificatePath string) error {
	if certificatePath == "" {
		return errors.New("certificate path is required")
	}
	arguments := []string{"add-trusted-cert", "-r", "trustRoot", "-k", installer.configuration.MacOSKeychainPath, certificatePath}
	if err := installer.commandRunner.Run(ctx, commandNameSecurity, arguments); err != nil {
		return fmt.Errorf("install certificate in macos keychain: %w", err)
	}
	if err := importIntoLegacyProfiles(ctx, installer.commandRunner, installer.fileSystem, installer.configuration, certificatePath); err != nil {
		return fmt.Errorf("update legacy browser profiles: %w", err)
	}
	return nil
}

func (installer *macOSInstaller) Uninstall(ctx context.Context) error {
	arguments := []string{"delete-certificate", "-c", installer.configuration.CertificateCommonName, installer.configuration.MacOSKeychainPath}
	if err := installer.commandRunner.Run(ctx, commandNameSecurity, arguments); err != nil {
		return fmt.Errorf("remove certificate from macos keychain: %w", err)
	}
	if err := removeFromLegacyProfiles(ctx, installer.commandRunner, installer.fileSystem, installer.configuration); err != nil {
		return fmt.Errorf("clean legacy browser profiles: %w", err)
	}
	return nil
}

type linuxInstaller struct {
	commandRunner system.CommandRunner
	fileSystem    system.FileSystem
	configuration Configuration
}

func newLinuxInstaller(commandRunner system.CommandRunner, fileSystem system.FileSystem, configuration Configuration) (Installer, error) {
	if configuration.LinuxCertificateFilePermissions == 0 {
		configuration.LinuxCertificateFilePermissions = 0o644
	}
	if configuration.LinuxCertificateDestinationPath == "" {
		configuration.LinuxCertificateDestinationPath = defaultLinuxCertificateDestination
	}
	return &linuxInstaller{
		commandRunner: commandRunner,
		fileSystem:    fileSystem,
		configuration: configuration,
	}, nil
}

func (installer *linuxInstaller) Install(ctx context.Context, certificatePath string) error {
	if certificatePath == "" {
		return errors.New("certificate path is required")
	}
	exists, existsErr := installer.fileSystem.FileExists(certificatePath)
	if existsErr != nil {
		return fmt.Errorf("check certificate path: %w", existsErr)
	}
	if !exists {
		return fmt.Errorf("certificate path does not exist: %s", certificatePath)
	}

	destinationPath := installer.configuration.LinuxCertificateDestinationPath
	if err := installer.fileSystem.EnsureDirectory(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("ensure trust certificate directory: %w", err)
	}
	content, readErr := installer.fileSystem.ReadFile(certificatePath)
	if readErr != nil {
		return fmt.Errorf("read certificate: %w", readErr)
	}
	if err := installer.fileSystem.WriteFile(destinationPath, content, installer.configuration.LinuxCertificateFilePermissions); err != nil {
		return fmt.Errorf("write trust certificate: %w", err)
	}

	if err := installer.refreshTrustStore(ctx, destinationPath, false); err != nil {
		return fmt.Errorf("configure linux trust store: %w", err)
	}
	if err := importIntoLegacyProfiles(ctx, installer.commandRunner, installer.fileSystem, installer.configuration, certificatePath); err != nil {
		return fmt.Errorf("update legacy browser profiles: %w", err)
	}
	return nil
}

func (installer *linuxInstaller) Uninstall(ctx context.Context) error {
	destinationPath := installer.configuration.LinuxCertificateDestinationPath
	if err := installer.fileSystem.Remove(destinationPath); err != nil {
		return fmt.Errorf("remove trust certificate file: %w", err)
	}
	if err := installer.refreshTrustStore(ctx, destinationPath, true); err != nil {
		return fmt.Errorf("update linux trust store: %w", err)
	}
	if err := removeFromLegacyProfiles(ctx, installer.commandRunner, installer.fileSystem, installer.configuration); err != nil {
		return fmt.Errorf("clean legacy browser profiles: %w", err)
	}
	return nil
}

// refreshTrustStore regenerates the system bundle. Debian-family systems
// rebuild from the certificate directory; elsewhere the p11-kit trust tool
// anchors the file directly.
func (installer *linuxInstaller) refreshTrustStore(ctx context.Context, destinationPath string, removing bool) error {
	if _, err := lookupExecutable(commandNameUpdateCertificates); err == nil {
		return installer.commandRunner.Run(ctx, commandNameUpdateCertificates, nil)
	}
	if removing {
		return installer.commandRunner.Run(ctx, commandNameTrust, []string{"anchor", "--remove", destinationPath})
	}
	return installer.commandRunner.Run(ctx, commandNameTrust, []string{"anchor", destinationPath})
}

type windowsInstaller struct {
	commandRunner system.CommandRunner
	fileSystem    system.FileSystem
	configuration Configuration
}

func newWindowsInstaller(commandRunner system.CommandRunner, fileSystem system.FileSystem, configuration Configuration) (Installer, error) {
	if configuration.CertificateCommonName == "" {
		return nil, errors.New("windows installer requires certificate common name")
	}
	if configuration.WindowsCertificateStoreName == "" {
		configuration.WindowsCertificateStoreName = "Root"
	}
	return &windowsInstaller{
		commandRunner: commandRunner,
		fileSystem:    fileSystem,
		configuration: configuration,
	}, nil
}

func (installer *windowsInstaller) Install(ctx context.Context, certificatePath string) error {
	if certificatePath == "" {
		return errors.New("certificate path is required")
	}
	arguments := []string{"-user", "-addstore", "-f", installer.configuration.WindowsCertificateStoreName, certificatePath}
	if err := installer.commandRunner.Run(ctx, commandNameCertutil, arguments); err != nil {
		return fmt.Errorf("install certificate in windows store: %w", err)
	}
	if err := importIntoLegacyProfiles(ctx, installer.commandRunner, installer.fileSystem, installer.configuration, certificatePath); err != nil {
		return fmt.Errorf("update legacy browser profiles: %w", err)
	}
	return nil
}

func (installer *windowsInstaller) Uninstall(ctx context.Context) error {
	arguments := []string{"-user", "-delstore", installer.configuration.WindowsCertificateStoreName, installer.configuration.CertificateCommonName}
	if err := installer.commandRunner.Run(ctx, commandNameCertutil, arguments); err != nil {
		return fmt.Errorf("remove certificate from windows store: %w", err)
	}
	if err := removeFromLegacyProfiles(ctx, installer.commandRunner, installer.fileSystem, installer.configuration); err != nil {
		return fmt.Errorf("clean legacy browser profiles: %w", err)
	}
	return nil
}
