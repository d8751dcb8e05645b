package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/crawlinknetworks/tray/internal/browser"
	"github.com/crawlinknetworks/tray/internal/browser/autoconfig"
	"github.com/crawlinknetworks/tray/internal/browser/policy"
	"github.com/crawlinknetworks/tray/internal/certificates"
	"github.com/crawlinknetworks/tray/internal/certificates/truststore"
	"github.com/crawlinknetworks/tray/internal/jsonstore"
	"github.com/crawlinknetworks/tray/internal/prefstore"
	"github.com/crawlinknetworks/tray/internal/product"
	"github.com/crawlinknetworks/tray/internal/registry"
	"github.com/crawlinknetworks/tray/internal/system"
	"github.com/crawlinknetworks/tray/pkg/logging"
)

const (
	strategyPolicy     = "policy"
	strategyAutoconfig = "autoconfig"

	logFieldCertificateDirectory = "certificate_directory"
	logFieldHosts                = "hosts"
	logFieldBrowser              = "browser"
	logFieldVersion              = "version"
	logFieldStrategy             = "strategy"
	logFieldInstalled            = "installed"
	logFieldRunning              = "running"
	logFieldPath                 = "path"
	logFieldBrowsers             = "browsers"
	logFieldFailures             = "failures"

	logMessageNoBrowsersFound = "no supported browsers found"
)

type policyEngine struct {
	locator      browser.Locator
	selector     policy.Selector
	inspector    policy.Inspector
	writer       policy.Writer
	orchestrator policy.Orchestrator
}

func newPolicyCommand(resources *applicationResources, hostFlags *pflag.FlagSet) *cobra.Command {
	policyCommand := &cobra.Command{
		Use:   "policy",
		Short: "Manage browser trust policy installations",
	}

	installRootsDefault := resources.configurationManager.GetStringSlice(configKeyPolicyInstallRoots)
	policyCommand.PersistentFlags().StringSlice(flagNameInstallRoot, installRootsDefault, "Additional directories scanned for browser installations")
	_ = resources.configurationManager.BindPFlag(configKeyPolicyInstallRoots, policyCommand.PersistentFlags().Lookup(flagNameInstallRoot))

	policyCommand.AddCommand(newPolicyInstallCommand(resources, hostFlags))
	policyCommand.AddCommand(newPolicyUninstallCommand(resources))
	policyCommand.AddCommand(newPolicyStatusCommand(resources))

	return policyCommand
}

func newPolicyInstallCommand(resources *applicationResources, hostFlags *pflag.FlagSet) *cobra.Command {
	installCommand := &cobra.Command{
		Use:   "install",
		Short: "Install the certificate authority into system and browser trust",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyInstall(cmd)
		},
	}

	installCommand.Flags().String(flagNameCertificatePath, resources.configurationManager.GetString(configKeyPolicyCertificatePath), "Existing certificate to install instead of the generated authority")
	installCommand.Flags().Bool(flagNameAlternateMarker, resources.configurationManager.GetBool(configKeyPolicyAlternateMarker), "Also set the platform-native enterprise roots marker")
	_ = resources.configurationManager.BindPFlag(configKeyPolicyCertificatePath, installCommand.Flags().Lookup(flagNameCertificatePath))
	_ = resources.configurationManager.BindPFlag(configKeyPolicyAlternateMarker, installCommand.Flags().Lookup(flagNameAlternateMarker))
	if hostFlags != nil {
		installCommand.Flags().AddFlagSet(hostFlags)
	}

	return installCommand
}

func newPolicyUninstallCommand(resources *applicationResources) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove browser trust policy and the certificate authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyUninstall(cmd)
		},
	}
}

func newPolicyStatusCommand(resources *applicationResources) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report trust state for each installed browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyStatus(cmd)
		},
	}
}

func runPolicyInstall(cmd *cobra.Command) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	fileSystem := system.NewOperatingSystemFileSystem()
	commandRunner := system.NewExecutableRunner()

	certificatePEM, certificatePath, materialErr := ensureAuthorityCertificate(cmd.Context(), resources, fileSystem)
	if materialErr != nil {
		return materialErr
	}

	installer, installerErr := buildTrustStoreInstaller(commandRunner, fileSystem)
	if installerErr != nil {
		return installerErr
	}
	if installErr := installer.Install(cmd.Context(), certificatePath); installErr != nil {
		return fmt.Errorf("install certificate authority: %w", installErr)
	}
	logCertificateMessage(resources, "certificate authority installed", filepath.Dir(certificatePath))

	engine, engineErr := buildPolicyEngine(resources, fileSystem, commandRunner)
	if engineErr != nil {
		return engineErr
	}
	instances := locateBrowserInstances(cmd.Context(), engine.locator)
	if len(instances) == 0 {
		resources.loggingService.Info(logMessageNoBrowsersFound)
		return nil
	}

	hosts := sanitizeHosts(resources.configurationManager.GetStringSlice(configKeyHosts))
	if len(hosts) == 0 {
		return errors.New("at least one host must be specified")
	}
	runningPaths := engine.locator.RunningPaths(cmd.Context(), instances)
	report := engine.orchestrator.Install(cmd.Context(), instances, certificatePEM, hosts, runningPaths)

	if resources.configurationManager.GetBool(configKeyPolicyAlternateMarker) {
		installAlternateMarkers(cmd.Context(), resources, engine.writer, instances)
	}

	logPolicyReport(resources, "browser trust installed", report)
	if failureCount := report.FailureCount(); failureCount > 0 {
		return fmt.Errorf("%d of %d browser installations failed", failureCount, len(report.Outcomes))
	}
	return nil
}

func runPolicyUninstall(cmd *cobra.Command) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	fileSystem := system.NewOperatingSystemFileSystem()
	commandRunner := system.NewExecutableRunner()

	engine, engineErr := buildPolicyEngine(resources, fileSystem, commandRunner)
	if engineErr != nil {
		return engineErr
	}
	instances := locateBrowserInstances(cmd.Context(), engine.locator)
	var report policy.Report
	if len(instances) == 0 {
		resources.loggingService.Info(logMessageNoBrowsersFound)
	} else {
		report = engine.orchestrator.Uninstall(cmd.Context(), instances)
		logPolicyReport(resources, "browser trust removed", report)
	}

	installer, installerErr := buildTrustStoreInstaller(commandRunner, fileSystem)
	if installerErr != nil {
		return installerErr
	}
	if uninstallErr := installer.Uninstall(cmd.Context()); uninstallErr != nil {
		return fmt.Errorf("uninstall certificate authority: %w", uninstallErr)
	}

	if failureCount := report.FailureCount(); failureCount > 0 {
		return fmt.Errorf("%d of %d browser uninstalls failed", failureCount, len(report.Outcomes))
	}
	return nil
}

func runPolicyStatus(cmd *cobra.Command) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	fileSystem := system.NewOperatingSystemFileSystem()
	commandRunner := system.NewExecutableRunner()

	engine, engineErr := buildPolicyEngine(resources, fileSystem, commandRunner)
	if engineErr != nil {
		return engineErr
	}
	instances := locateBrowserInstances(cmd.Context(), engine.locator)
	if len(instances) == 0 {
		resources.loggingService.Info(logMessageNoBrowsersFound)
		return nil
	}
	runningPaths := engine.locator.RunningPaths(cmd.Context(), instances)

	for _, instance := range instances {
		strategy := strategyAutoconfig
		if engine.selector.HonorsPolicy(instance) {
			strategy = strategyPolicy
		}
		installed := engine.inspector.HasPolicy(cmd.Context(), instance)
		running := runningPaths[instance.ExecutablePath]
		logInstanceStatus(resources, instance, strategy, installed, running)
	}
	return nil
}

func buildPolicyEngine(resources *applicationResources, fileSystem system.FileSystem, commandRunner system.CommandRunner) (policyEngine, error) {
	platform := browser.CurrentPlatform()

	providerConfiguration := policy.ProviderConfiguration{
		FileSystem:       fileSystem,
		RegistryAccessor: registry.NewSystemAccessor(),
		PreferenceStore:  prefstore.NewStore(commandRunner),
	}
	if platform == browser.PlatformMac {
		homeDirectory, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return policyEngine{}, fmt.Errorf("resolve home directory: %w", homeErr)
		}
		providerConfiguration.UserPreferenceRoot = filepath.Join(homeDirectory, "Library", "Preferences")
	}
	provider := policy.NewProvider(platform, providerConfiguration)
	documents := jsonstore.NewStore(fileSystem)
	selector := policy.NewSelector(platform, resources.loggingService)
	writer := policy.NewWriter(provider, documents, fileSystem, resources.loggingService)
	fallback := autoconfig.NewInstaller(platform, fileSystem)
	orchestrator := policy.NewOrchestrator(provider, selector, writer, fallback, system.NewExecutableSpawner(), resources.loggingService)

	locator := browser.NewLocator(platform, fileSystem, commandRunner, resources.loggingService)
	if installRoots := resources.configurationManager.GetStringSlice(configKeyPolicyInstallRoots); len(installRoots) > 0 {
		locator = locator.WithAdditionalInstallRoots(installRoots...)
	}

	return policyEngine{
		locator:      locator,
		selector:     selector,
		inspector:    policy.NewInspector(provider, documents),
		writer:       writer,
		orchestrator: orchestrator,
	}, nil
}

func ensureAuthorityCertificate(ctx context.Context, resources *applicationResources, fileSystem system.FileSystem) ([]byte, string, error) {
	overridePath := strings.TrimSpace(resources.configurationManager.GetString(configKeyPolicyCertificatePath))
	if overridePath != "" {
		certificatePEM, readErr := os.ReadFile(overridePath)
		if readErr != nil {
			return nil, "", fmt.Errorf("read certificate: %w", readErr)
		}
		if _, parseErr := certificates.ParseCertificatePEM(certificatePEM); parseErr != nil {
			return nil, "", fmt.Errorf("parse certificate: %w", parseErr)
		}
		return certificatePEM, overridePath, nil
	}

	certificateDirectory, directoryErr := resolveCertificateDirectory(resources.configurationManager)
	if directoryErr != nil {
		return nil, "", directoryErr
	}
	authorityConfiguration := certificates.DefaultAuthorityConfiguration(certificateDirectory)
	manager := certificates.NewCertificateAuthorityManager(fileSystem, system.NewSystemClock(), rand.Reader, authorityConfiguration)
	material, ensureErr := manager.EnsureCertificateAuthority(ctx)
	if ensureErr != nil {
		return nil, "", fmt.Errorf("ensure certificate authority: %w", ensureErr)
	}
	return material.CertificateBytes, filepath.Join(certificateDirectory, authorityConfiguration.CertificateFileName), nil
}

func buildTrustStoreInstaller(commandRunner system.CommandRunner, fileSystem system.FileSystem) (truststore.Installer, error) {
	configuration := truststore.Configuration{
		CertificateCommonName:           product.CertificateAuthorityCommonName,
		LinuxCertificateFilePermissions: 0o644,
		WindowsCertificateStoreName:     "Root",
	}
	return truststore.NewInstaller(commandRunner, fileSystem, configuration)
}

func locateBrowserInstances(ctx context.Context, locator browser.Locator) []browser.Instance {
	var instances []browser.Instance
	for _, alias := range browser.FirefoxFamily() {
		instances = append(instances, locator.Locate(ctx, alias)...)
	}
	return instances
}

func installAlternateMarkers(ctx context.Context, resources *applicationResources, writer policy.Writer, instances []browser.Instance) {
	for _, instance := range instances {
		if writer.InstallAlternateMarker(ctx, instance) {
			resources.loggingService.Info("alternate trust marker set", logging.String(logFieldBrowser, instance.Name))
			continue
		}
		resources.loggingService.Warn("alternate trust marker not set", logging.String(logFieldBrowser, instance.Name))
	}
}

func logPolicyReport(resources *applicationResources, message string, report policy.Report) {
	browserCount := len(report.Outcomes)
	failureCount := report.FailureCount()
	if resources.loggingType() == logging.TypeConsole {
		resources.loggingService.Info(fmt.Sprintf("%s (%d browsers, %d failures)", message, browserCount, failureCount))
		return
	}
	resources.loggingService.Info(message,
		logging.Int(logFieldBrowsers, browserCount),
		logging.Int(logFieldFailures, failureCount))
}

func logInstanceStatus(resources *applicationResources, instance browser.Instance, strategy string, installed bool, running bool) {
	versionDisplay := "unknown"
	if instance.HasVersion() {
		versionDisplay = instance.Version.String()
	}
	if resources.loggingType() == logging.TypeConsole {
		resources.loggingService.Info(fmt.Sprintf("%s %s strategy=%s installed=%t running=%t (%s)",
			instance.Name, versionDisplay, strategy, installed, running, instance.InstallPath))
		return
	}
	resources.loggingService.Info("browser trust status",
		logging.String(logFieldBrowser, instance.Name),
		logging.String(logFieldVersion, versionDisplay),
		logging.String(logFieldStrategy, strategy),
		logging.String(logFieldInstalled, strconv.FormatBool(installed)),
		logging.String(logFieldRunning, strconv.FormatBool(running)),
		logging.String(logFieldPath, instance.InstallPath))
}

func resolveCertificateDirectory(configurationManager *viper.Viper) (string, error) {
	directoryValue := strings.TrimSpace(configurationManager.GetString(configKeyCertificateDirectory))
	if directoryValue == "" {
		return "", errors.New("certificate directory is not configured")
	}
	absoluteDirectory, err := filepath.Abs(directoryValue)
	if err != nil {
		return "", fmt.Errorf("resolve certificate directory: %w", err)
	}
	return absoluteDirectory, nil
}

func sanitizeHosts(hosts []string) []string {
	seen := map[string]struct{}{}
	result := make([]string, 0, len(hosts))
	for _, host := range hosts {
		normalizedHost := strings.TrimSpace(host)
		if normalizedHost == "" {
			continue
		}
		if _, exists := seen[normalizedHost]; exists {
			continue
		}
		seen[normalizedHost] = struct{}{}
		result = append(result, normalizedHost)
	}
	return result
}

func certificateDirectoryField(path string) logging.Field {
	return logging.String(logFieldCertificateDirectory, path)
}

func logCertificateMessage(resources *applicationResources, message string, directory string) {
	if resources.loggingService == nil {
		return
	}
	if resources.loggingType() == logging.TypeConsole {
		resources.loggingService.Info(fmt.Sprintf("%s (%s)", message, directory))
		return
	}
	resources.loggingService.Info(message, certificateDirectoryField(directory))
}
