// Package autoconfig installs trust through Firefox's legacy AutoConfig
// mechanism. It predates the enterprise policy engine and works on every
// version, so it serves as the fallback for installs below the policy
// thresholds.
package autoconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/crawlinknetworks/tray/internal/browser"
	"github.com/crawlinknetworks/tray/internal/product"
	"github.com/crawlinknetworks/tray/internal/system"
)

const (
	configFileName      = product.FileBase + ".cfg"
	preferencesFileName = product.FileBase + "-autoconfig.js"

	// AutoConfig requires obscure_value 0 for plain-text scripts and ignores
	// the first line of the script file.
	preferencesTemplate = `pref("general.config.obscure_value", 0);
pref("general.config.filename", "%s");
`
	scriptTemplate = `// %s AutoConfig
%stry {
    var certdb = Components.classes["@mozilla.org/security/x509certdb;1"].getService(Components.interfaces.nsIX509CertDB);
    certdb.addCertFromBase64("%s", "C,C,C", "%s");
} catch (ignore) {}
`
)

// Installer writes and removes the AutoConfig script pair for an instance.
type Installer struct {
	platform   browser.Platform
	fileSystem system.FileSystem
}

// NewInstaller constructs an Installer.
func NewInstaller(platform browser.Platform, fileSystem system.FileSystem) Installer {
	return Installer{platform: platform, fileSystem: fileSystem}
}

// InstallAutoConfigScript writes the preference stub that enables AutoConfig
// and the script registering the certificate with the instance's certificate
// database. Repeat installs overwrite both files.
func (installer Installer) InstallAutoConfigScript(_ context.Context, instance browser.Instance, certificateBase64 string, hostNames ...string) error {
	resourcesRoot := installer.platform.ResourcesRoot(instance.InstallPath)

	preferencesDirectory := filepath.Join(resourcesRoot, "defaults", "pref")
	if err := installer.fileSystem.EnsureDirectory(preferencesDirectory, 0o755); err != nil {
		return fmt.Errorf("ensure preferences directory: %w", err)
	}
	preferencesContent := fmt.Sprintf(preferencesTemplate, configFileName)
	preferencesPath := filepath.Join(preferencesDirectory, preferencesFileName)
	if err := installer.fileSystem.WriteFile(preferencesPath, []byte(preferencesContent), 0o644); err != nil {
		return fmt.Errorf("write preferences stub: %w", err)
	}

	scriptPath := filepath.Join(resourcesRoot, configFileName)
	scriptContent := fmt.Sprintf(scriptTemplate, product.Name, hostNamesHeader(hostNames), certificateBase64, product.CertificateAuthorityCommonName)
	if err := installer.fileSystem.WriteFile(scriptPath, []byte(scriptContent), 0o644); err != nil {
		return fmt.Errorf("write auto-config script: %w", err)
	}
	return nil
}

// UninstallAutoConfigScript removes both AutoConfig files, tolerating
// absence.
func (installer Installer) UninstallAutoConfigScript(_ context.Context, instance browser.Instance) error {
	resourcesRoot := installer.platform.ResourcesRoot(instance.InstallPath)
	preferencesPath := filepath.Join(resourcesRoot, "defaults", "pref", preferencesFileName)
	if err := installer.fileSystem.Remove(preferencesPath); err != nil {
		return fmt.Errorf("remove preferences stub: %w", err)
	}
	scriptPath := filepath.Join(resourcesRoot, configFileName)
	if err := installer.fileSystem.Remove(scriptPath); err != nil {
		return fmt.Errorf("remove auto-config script: %w", err)
	}
	return nil
}

func hostNamesHeader(hostNames []string) string {
	if len(hostNames) == 0 {
		return ""
	}
	return "// Trusted hosts: " + strings.Join(hostNames, ", ") + "\n"
}
