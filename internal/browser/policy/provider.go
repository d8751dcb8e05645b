package policy

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/crawlinknetworks/tray/internal/browser"
	"github.com/crawlinknetworks/tray/internal/prefstore"
	"github.com/crawlinknetworks/tray/internal/product"
	"github.com/crawlinknetworks/tray/internal/registry"
	"github.com/crawlinknetworks/tray/internal/system"
)

const (
	policyDirectoryName     = "distribution"
	policyFileName          = "policies.json"
	alternateMarkerName     = "ImportEnterpriseRoots"
	windowsPolicyKeyPattern = `Software\Policies\%s\%s\Certificates`
	systemPreferenceRoot    = "/Library/Preferences"

	// defaultCertificateDirectory is where Firefox on linux resolves bare
	// certificate names from.
	defaultCertificateDirectory = "/usr/lib/mozilla/certificates"
)

// Provider captures how one platform family stores browser trust policy.
// Providers are plain values selected by platform, so every variant is
// constructible on any host.
type Provider interface {
	Platform() browser.Platform
	// PolicyPath returns the policies.json location for an install root.
	PolicyPath(installPath string) string
	// InstallDocument returns the document shape this platform installs.
	InstallDocument() map[string]any
	// StaleDocuments returns document forms superseded by InstallDocument,
	// subtracted from the policy file before installing.
	StaleDocuments() []map[string]any
	// UninstallDocument returns the document subtracted on uninstall, or
	// false on platforms that keep the policy in place.
	UninstallDocument() (map[string]any, bool)
	// StageCertificate places the certificate where the install document
	// expects to find it. A no-op where the document grants store trust.
	StageCertificate(ctx context.Context, certificatePEM []byte) error
	// HasAlternateMarker reports whether the platform-native marker grants
	// the same trust as the policy file. User scope wins over system scope.
	HasAlternateMarker(ctx context.Context, instance browser.Instance) bool
	// SetAlternateMarker writes the marker in user scope and reports
	// success. Platforms without a marker report false.
	SetAlternateMarker(ctx context.Context, instance browser.Instance) bool
}

// ProviderConfiguration carries the stores and paths the platform providers
// operate on.
type ProviderConfiguration struct {
	FileSystem           system.FileSystem
	RegistryAccessor     registry.Accessor
	PreferenceStore      prefstore.Store
	UserPreferenceRoot   string
	CertificateDirectory string
}

var providerFactories = map[browser.Platform]func(ProviderConfiguration) Provider{
	browser.PlatformWindows: newWindowsProvider,
	browser.PlatformMac:     newMacProvider,
	browser.PlatformLinux:   newLinuxProvider,
}

// NewProvider returns the policy provider for the platform. Unknown platform
// values resolve to the portable linux behavior, matching
// browser.CurrentPlatform.
func NewProvider(platform browser.Platform, configuration ProviderConfiguration) Provider {
	if configuration.CertificateDirectory == "" {
		configuration.CertificateDirectory = defaultCertificateDirectory
	}
	factory, known := providerFactories[platform]
	if !known {
		factory = providerFactories[browser.PlatformLinux]
	}
	return factory(configuration)
}

type providerBase struct {
	platform browser.Platform
}

func (base providerBase) Platform() browser.Platform {
	return base.platform
}

func (base providerBase) PolicyPath(installPath string) string {
	return filepath.Join(base.platform.ResourcesRoot(installPath), policyDirectoryName, policyFileName)
}

type windowsProvider struct {
	providerBase
	registryAccessor registry.Accessor
}

func newWindowsProvider(configuration ProviderConfiguration) Provider {
	return windowsProvider{
		providerBase:     providerBase{platform: browser.PlatformWindows},
		registryAccessor: configuration.RegistryAccessor,
	}
}

func (provider windowsProvider) InstallDocument() map[string]any {
	return EnterpriseRootTrustDocument()
}

func (provider windowsProvider) StaleDocuments() []map[string]any {
	return nil
}

func (provider windowsProvider) UninstallDocument() (map[string]any, bool) {
	return nil, false
}

func (provider windowsProvider) StageCertificate(_ context.Context, _ []byte) error {
	return nil
}

func (provider windowsProvider) HasAlternateMarker(_ context.Context, instance browser.Instance) bool {
	keyPath := fmt.Sprintf(windowsPolicyKeyPattern, instance.Vendor, instance.VendorlessName)
	for _, scope := range []registry.Scope{registry.ScopeUser, registry.ScopeMachine} {
		value, present := provider.registryAccessor.ReadInteger(scope, keyPath, alternateMarkerName)
		if present {
			return value != 0
		}
	}
	return false
}

func (provider windowsProvider) SetAlternateMarker(_ context.Context, instance browser.Instance) bool {
	keyPath := fmt.Sprintf(windowsPolicyKeyPattern, instance.Vendor, instance.VendorlessName)
	return provider.registryAccessor.WriteInteger(registry.ScopeUser, keyPath, alternateMarkerName, 1)
}

type macProvider struct {
	providerBase
	preferenceStore    prefstore.Store
	userPreferenceRoot string
}

func newMacProvider(configuration ProviderConfiguration) Provider {
	return macProvider{
		providerBase:       providerBase{platform: browser.PlatformMac},
		preferenceStore:    configuration.PreferenceStore,
		userPreferenceRoot: configuration.UserPreferenceRoot,
	}
}

func (provider macProvider) InstallDocument() map[string]any {
	return EnterpriseRootTrustDocument()
}

func (provider macProvider) StaleDocuments() []map[string]any {
	return nil
}

func (provider macProvider) UninstallDocument() (map[string]any, bool) {
	return nil, false
}

func (provider macProvider) StageCertificate(_ context.Context, _ []byte) error {
	return nil
}

func (provider macProvider) HasAlternateMarker(ctx context.Context, instance browser.Instance) bool {
	userDomain := filepath.Join(provider.userPreferenceRoot, instance.BundleIdentifier)
	systemDomain := filepath.Join(systemPreferenceRoot, instance.BundleIdentifier)
	for _, domainPath := range []string{userDomain, systemDomain} {
		value, present := provider.preferenceStore.ReadString(ctx, domainPath, alternateMarkerName)
		if present {
			return value == "1"
		}
	}
	return false
}

func (provider macProvider) SetAlternateMarker(ctx context.Context, instance browser.Instance) bool {
	userDomain := filepath.Join(provider.userPreferenceRoot, instance.BundleIdentifier)
	return provider.preferenceStore.WriteBool(ctx, userDomain, alternateMarkerName, true)
}

type linuxProvider struct {
	providerBase
	fileSystem           system.FileSystem
	certificateDirectory string
}

func newLinuxProvider(configuration ProviderConfiguration) Provider {
	return linuxProvider{
		providerBase:         providerBase{platform: browser.PlatformLinux},
		fileSystem:           configuration.FileSystem,
		certificateDirectory: configuration.CertificateDirectory,
	}
}

func (provider linuxProvider) InstallDocument() map[string]any {
	return InstallNamedCertificateDocument(product.CertificateFileName)
}

func (provider linuxProvider) StaleDocuments() []map[string]any {
	return []map[string]any{InstallNamedCertificateDocument(product.LegacyAuthorityCertificatePath)}
}

func (provider linuxProvider) UninstallDocument() (map[string]any, bool) {
	return InstallNamedCertificateDocument(product.CertificateFileName), true
}

// StageCertificate writes the certificate into the well-known certificate
// directory and leaves the directory, its parent, and the file readable for
// every account a browser may run under.
func (provider linuxProvider) StageCertificate(_ context.Context, certificatePEM []byte) error {
	if err := provider.fileSystem.EnsureDirectory(provider.certificateDirectory, 0o755); err != nil {
		return fmt.Errorf("ensure certificate directory: %w", err)
	}
	for _, directory := range []string{provider.certificateDirectory, filepath.Dir(provider.certificateDirectory)} {
		if err := provider.fileSystem.Chmod(directory, 0o755); err != nil {
			return fmt.Errorf("mark %s traversable: %w", directory, err)
		}
	}
	certificatePath := filepath.Join(provider.certificateDirectory, product.CertificateFileName)
	if err := provider.fileSystem.WriteFile(certificatePath, certificatePEM, 0o644); err != nil {
		return fmt.Errorf("write staged certificate: %w", err)
	}
	if err := provider.fileSystem.Chmod(certificatePath, 0o644); err != nil {
		return fmt.Errorf("mark staged certificate readable: %w", err)
	}
	return nil
}

func (provider linuxProvider) HasAlternateMarker(_ context.Context, _ browser.Instance) bool {
	return false
}

func (provider linuxProvider) SetAlternateMarker(_ context.Context, _ browser.Instance) bool {
	return false
}
