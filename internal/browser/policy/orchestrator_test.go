package policy_test

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/crawlinknetworks/tray/internal/browser"
	"github.com/crawlinknetworks/tray/internal/browser/policy"
	"github.com/crawlinknetworks/tray/internal/jsonstore"
	"github.com/crawlinknetworks/tray/internal/prefstore"
	"github.com/crawlinknetworks/tray/internal/registry"
	"github.com/crawlinknetworks/tray/internal/system"
	"github.com/crawlinknetworks/tray/pkg/logging"
)

type fakeRegistryAccessor struct {
	values     map[string]int64
	failWrites bool
}

func registryValueKey(scope registry.Scope, keyPath string, valueName string) string {
	return string(scope) + "|" + keyPath + "|" + valueName
}

func (accessor *fakeRegistryAccessor) ReadInteger(scope registry.Scope, keyPath string, valueName string) (int64, bool) {
	value, present := accessor.values[registryValueKey(scope, keyPath, valueName)]
	return value, present
}

func (accessor *fakeRegistryAccessor) WriteInteger(scope registry.Scope, keyPath string, valueName string, value int64) bool {
	if accessor.failWrites {
		return false
	}
	if accessor.values == nil {
		accessor.values = map[string]int64{}
	}
	accessor.values[registryValueKey(scope, keyPath, valueName)] = value
	return true
}

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

type fallbackInstallCall struct {
	instanceName      string
	certificateBase64 string
	hostNames         []string
}

type recordingFallbackInstaller struct {
	installs   []fallbackInstallCall
	uninstalls []string
}

func (installer *recordingFallbackInstaller) InstallAutoConfigScript(_ context.Context, instance browser.Instance, certificateBase64 string, hostNames ...string) error {
	installer.installs = append(installer.installs, fallbackInstallCall{
		instanceName:      instance.Name,
		certificateBase64: certificateBase64,
		hostNames:         hostNames,
	})
	return nil
}

func (installer *recordingFallbackInstaller) UninstallAutoConfigScript(_ context.Context, instance browser.Instance) error {
	installer.uninstalls = append(installer.uninstalls, instance.Name)
	return nil
}

type recordingSpawner struct {
	spawned [][]string
	errs    []error
}

func (spawner *recordingSpawner) Spawn(executable string, arguments ...string) error {
	spawner.spawned = append(spawner.spawned, append([]string{executable}, arguments...))
	if len(spawner.errs) == 0 {
		return nil
	}
	err := spawner.errs[0]
	spawner.errs = spawner.errs[1:]
	return err
}

type harness struct {
	provider     policy.Provider
	inspector    policy.Inspector
	writer       policy.Writer
	orchestrator policy.Orchestrator
	fallback     *recordingFallbackInstaller
	spawner      *recordingSpawner
}

func newHarness(platform browser.Platform, configuration policy.ProviderConfiguration) harness {
	if configuration.FileSystem == nil {
		configuration.FileSystem = system.NewOperatingSystemFileSystem()
	}
	logs := logging.NewTestService(logging.TypeConsole)
	provider := policy.NewProvider(platform, configuration)
	documents := jsonstore.NewStore(configuration.FileSystem)
	fallback := &recordingFallbackInstaller{}
	spawner := &recordingSpawner{}
	writer := policy.NewWriter(provider, documents, configuration.FileSystem, logs)
	return harness{
		provider:     provider,
		inspector:    policy.NewInspector(provider, documents),
		writer:       writer,
		orchestrator: policy.NewOrchestrator(provider, policy.NewSelector(platform, logs), writer, fallback, spawner, logs),
		fallback:     fallback,
		spawner:      spawner,
	}
}

func testInstance(t *testing.T, version string, installRoot string) browser.Instance {
	t.Helper()
	instance := browser.Instance{
		Name:             "Firefox",
		Vendor:           "Mozilla",
		VendorlessName:   "Firefox",
		BundleIdentifier: "org.mozilla.firefox",
		InstallPath:      installRoot,
		ExecutablePath:   filepath.Join(installRoot, "firefox"),
	}
	if version != "" {
		parsed, err := semver.NewVersion(version)
		if err != nil {
			t.Fatalf("parse version %q: %v", version, err)
		}
		instance.Version = parsed
	}
	return instance
}

func testCertificatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("certificate der bytes")})
}

func mustReadDocument(t *testing.T, path string) map[string]any {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	document := map[string]any{}
	if unmarshalErr := json.Unmarshal(content, &document); unmarshalErr != nil {
		t.Fatalf("unmarshal %s: %v", path, unmarshalErr)
	}
	return document
}

func mustWriteDocument(t *testing.T, path string, document map[string]any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	content, err := json.Marshal(document)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	if writeErr := os.WriteFile(path, content, 0o644); writeErr != nil {
		t.Fatalf("write %s: %v", path, writeErr)
	}
}

func TestHonorsPolicyPerPlatformThresholds(t *testing.T) {
	testCases := []struct {
		name     string
		platform browser.Platform
		version  string
		expected bool
	}{
		{name: "windows at threshold", platform: browser.PlatformWindows, version: "62.0.0", expected: true},
		{name: "windows below threshold", platform: browser.PlatformWindows, version: "61.9.9", expected: false},
		{name: "mac at threshold", platform: browser.PlatformMac, version: "63.0.0", expected: true},
		{name: "mac below threshold", platform: browser.PlatformMac, version: "62.9.0", expected: false},
		{name: "linux at threshold", platform: browser.PlatformLinux, version: "65.0.0", expected: true},
		{name: "linux below threshold", platform: browser.PlatformLinux, version: "64.0.2", expected: false},
		{name: "well above threshold", platform: browser.PlatformLinux, version: "128.0.2", expected: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			selector := policy.NewSelector(testCase.platform, logging.NewTestService(logging.TypeConsole))
			instance := testInstance(t, testCase.version, t.TempDir())
			if actual := selector.HonorsPolicy(instance); actual != testCase.expected {
				t.Fatalf("expected %v for %s %s, got %v", testCase.expected, testCase.platform, testCase.version, actual)
			}
		})
	}
}

func TestHonorsPolicyRejectsUnknownVersions(t *testing.T) {
	selector := policy.NewSelector(browser.PlatformWindows, logging.NewTestService(logging.TypeConsole))
	instance := testInstance(t, "", t.TempDir())
	if selector.HonorsPolicy(instance) {
		t.Fatalf("expected instance without version to be rejected")
	}
}

func TestInstallPolicyIsIdempotent(t *testing.T) {
	installRoot := t.TempDir()
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "70.0.0", installRoot)

	if err := testHarness.writer.InstallPolicy(context.Background(), instance, testCertificatePEM()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	policyPath := testHarness.provider.PolicyPath(installRoot)
	firstContent, err := os.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("read %s: %v", policyPath, err)
	}
	if !testHarness.inspector.HasPolicy(context.Background(), instance) {
		t.Fatalf("expected policy to be detected after first install")
	}

	if err := testHarness.writer.InstallPolicy(context.Background(), instance, testCertificatePEM()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	secondContent, err := os.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("read %s: %v", policyPath, err)
	}
	if string(firstContent) != string(secondContent) {
		t.Fatalf("expected repeat install to leave content unchanged\nfirst: %s\nsecond: %s", firstContent, secondContent)
	}
	if !testHarness.inspector.HasPolicy(context.Background(), instance) {
		t.Fatalf("expected policy to be detected after second install")
	}
}

func TestInstallPolicyPreservesExistingPolicies(t *testing.T) {
	installRoot := t.TempDir()
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "70.0.0", installRoot)
	policyPath := testHarness.provider.PolicyPath(installRoot)
	mustWriteDocument(t, policyPath, map[string]any{"policies": map[string]any{"DisableTelemetry": true}})

	if err := testHarness.writer.InstallPolicy(context.Background(), instance, testCertificatePEM()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	document := mustReadDocument(t, policyPath)
	policies := document["policies"].(map[string]any)
	if policies["DisableTelemetry"] != true {
		t.Fatalf("expected unrelated policy to survive, got %v", document)
	}
	certificatesSection := policies["Certificates"].(map[string]any)
	if certificatesSection["ImportEnterpriseRoots"] != true {
		t.Fatalf("expected enterprise roots policy, got %v", document)
	}
}

func TestHasPolicyIsPure(t *testing.T) {
	installRoot := t.TempDir()
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "70.0.0", installRoot)
	policyPath := testHarness.provider.PolicyPath(installRoot)
	mustWriteDocument(t, policyPath, map[string]any{"policies": map[string]any{"Certificates": map[string]any{"ImportEnterpriseRoots": true}}})
	before, err := os.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("read %s: %v", policyPath, err)
	}

	for call := 0; call < 3; call++ {
		if !testHarness.inspector.HasPolicy(context.Background(), instance) {
			t.Fatalf("expected policy to be detected on call %d", call)
		}
	}

	after, err := os.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("read %s: %v", policyPath, err)
	}
	if string(before) != string(after) {
		t.Fatalf("expected inspection to leave the policy file untouched")
	}
}

func TestHasPolicyReportsAbsenceForMissingFile(t *testing.T) {
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "70.0.0", t.TempDir())
	if testHarness.inspector.HasPolicy(context.Background(), instance) {
		t.Fatalf("expected no policy for a fresh install root")
	}
}

func TestUserScopeRegistryMarkerOverridesSystemScope(t *testing.T) {
	keyPath := `Software\Policies\Mozilla\Firefox\Certificates`
	testCases := []struct {
		name     string
		values   map[string]int64
		expected bool
	}{
		{
			name: "user set system cleared",
			values: map[string]int64{
				registryValueKey(registry.ScopeUser, keyPath, "ImportEnterpriseRoots"):    1,
				registryValueKey(registry.ScopeMachine, keyPath, "ImportEnterpriseRoots"): 0,
			},
			expected: true,
		},
		{
			name: "user cleared system set",
			values: map[string]int64{
				registryValueKey(registry.ScopeUser, keyPath, "ImportEnterpriseRoots"):    0,
				registryValueKey(registry.ScopeMachine, keyPath, "ImportEnterpriseRoots"): 1,
			},
			expected: false,
		},
		{
			name: "machine only",
			values: map[string]int64{
				registryValueKey(registry.ScopeMachine, keyPath, "ImportEnterpriseRoots"): 1,
			},
			expected: true,
		},
		{
			name: "nonzero counts as set",
			values: map[string]int64{
				registryValueKey(registry.ScopeUser, keyPath, "ImportEnterpriseRoots"): 2,
			},
			expected: true,
		},
		{name: "absent everywhere", values: map[string]int64{}, expected: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			accessor := &fakeRegistryAccessor{values: testCase.values}
			testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: accessor})
			instance := testInstance(t, "70.0.0", t.TempDir())
			if actual := testHarness.inspector.HasPolicy(context.Background(), instance); actual != testCase.expected {
				t.Fatalf("expected %v, got %v", testCase.expected, actual)
			}
		})
	}
}

func TestMacMarkerPrefersUserDomain(t *testing.T) {
	testCases := []struct {
		name     string
		outputs  []string
		outErrs  []error
		expected bool
	}{
		{name: "user domain set", outputs: []string{"1"}, expected: true},
		{name: "user domain cleared", outputs: []string{"0", "1"}, expected: false},
		{name: "system domain set", outputs: []string{"", "1"}, outErrs: []error{errors.New("domain does not exist"), nil}, expected: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			runner := &recordingCommandRunner{outputs: testCase.outputs, outErrs: testCase.outErrs}
			configuration := policy.ProviderConfiguration{
				PreferenceStore:    prefstore.NewStore(runner),
				UserPreferenceRoot: "/Users/tester/Library/Preferences",
			}
			testHarness := newHarness(browser.PlatformMac, configuration)
			instance := testInstance(t, "70.0.0", t.TempDir())
			if actual := testHarness.provider.HasAlternateMarker(context.Background(), instance); actual != testCase.expected {
				t.Fatalf("expected %v, got %v", testCase.expected, actual)
			}
		})
	}
}

func TestInstallAlternateMarkerWritesUserScope(t *testing.T) {
	accessor := &fakeRegistryAccessor{}
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: accessor})
	instance := testInstance(t, "70.0.0", t.TempDir())

	if !testHarness.writer.InstallAlternateMarker(context.Background(), instance) {
		t.Fatalf("expected marker write to succeed")
	}
	key := registryValueKey(registry.ScopeUser, `Software\Policies\Mozilla\Firefox\Certificates`, "ImportEnterpriseRoots")
	if accessor.values[key] != 1 {
		t.Fatalf("expected user-scope marker, got %v", accessor.values)
	}
}

func TestInstallUsesPolicyForSupportedVersions(t *testing.T) {
	installRoot := t.TempDir()
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "70.0.0", installRoot)

	report := testHarness.orchestrator.Install(context.Background(), []browser.Instance{instance}, testCertificatePEM(), []string{"localhost"}, map[string]bool{})
	if len(report.Outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(report.Outcomes))
	}
	outcome := report.Outcomes[0]
	if !outcome.UsedPolicy || outcome.UsedFallback || outcome.Err != nil {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.RestartAction != policy.RestartNotRequired {
		t.Fatalf("unexpected restart action: %v", outcome.RestartAction)
	}

	expectedDocument := map[string]any{"policies": map[string]any{"Certificates": map[string]any{"ImportEnterpriseRoots": true}}}
	actualDocument := mustReadDocument(t, filepath.Join(installRoot, "distribution", "policies.json"))
	if !reflect.DeepEqual(expectedDocument, actualDocument) {
		t.Fatalf("unexpected document: %v", actualDocument)
	}
	if !testHarness.inspector.HasPolicy(context.Background(), instance) {
		t.Fatalf("expected policy to be detected after install")
	}
	if len(testHarness.fallback.installs) != 0 {
		t.Fatalf("expected no fallback installs, got %v", testHarness.fallback.installs)
	}
}

func TestInstallUsesFallbackBelowThreshold(t *testing.T) {
	installRoot := t.TempDir()
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "58.0.0", installRoot)

	report := testHarness.orchestrator.Install(context.Background(), []browser.Instance{instance}, testCertificatePEM(), []string{"localhost", "tray.local"}, map[string]bool{})
	outcome := report.Outcomes[0]
	if outcome.UsedPolicy || !outcome.UsedFallback || outcome.Err != nil {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(testHarness.fallback.installs) != 1 {
		t.Fatalf("expected one fallback install, got %d", len(testHarness.fallback.installs))
	}
	call := testHarness.fallback.installs[0]
	if call.certificateBase64 == "" {
		t.Fatalf("expected non-empty certificate encoding")
	}
	if len(call.hostNames) != 2 || call.hostNames[0] != "localhost" || call.hostNames[1] != "tray.local" {
		t.Fatalf("unexpected host names: %v", call.hostNames)
	}

	policyPath := filepath.Join(installRoot, "distribution", "policies.json")
	if _, statErr := os.Stat(policyPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected no policy file, stat returned %v", statErr)
	}
}

func TestInstallSkipsFallbackWhenCertificateUnreadable(t *testing.T) {
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "58.0.0", t.TempDir())

	report := testHarness.orchestrator.Install(context.Background(), []browser.Instance{instance}, []byte("not a certificate"), []string{"localhost"}, map[string]bool{})
	outcome := report.Outcomes[0]
	if outcome.Err == nil {
		t.Fatalf("expected encoding failure to be reported")
	}
	if len(testHarness.fallback.installs) != 0 {
		t.Fatalf("expected fallback to be skipped, got %v", testHarness.fallback.installs)
	}
}

func TestInstallStagesCertificateOnLinux(t *testing.T) {
	installRoot := t.TempDir()
	certificateDirectory := filepath.Join(t.TempDir(), "mozilla", "certificates")
	configuration := policy.ProviderConfiguration{CertificateDirectory: certificateDirectory}
	testHarness := newHarness(browser.PlatformLinux, configuration)
	instance := testInstance(t, "70.0.0", installRoot)

	if err := testHarness.writer.InstallPolicy(context.Background(), instance, testCertificatePEM()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stagedPath := filepath.Join(certificateDirectory, "crawlink-tray.crt")
	stagedInfo, statErr := os.Stat(stagedPath)
	if statErr != nil {
		t.Fatalf("expected staged certificate: %v", statErr)
	}
	if stagedInfo.Mode().Perm() != 0o644 {
		t.Fatalf("unexpected staged certificate mode: %v", stagedInfo.Mode().Perm())
	}
	directoryInfo, statErr := os.Stat(certificateDirectory)
	if statErr != nil {
		t.Fatalf("stat %s: %v", certificateDirectory, statErr)
	}
	if directoryInfo.Mode().Perm() != 0o755 {
		t.Fatalf("unexpected certificate directory mode: %v", directoryInfo.Mode().Perm())
	}

	expectedDocument := map[string]any{"policies": map[string]any{"Certificates": map[string]any{"Install": []any{"crawlink-tray.crt"}}}}
	actualDocument := mustReadDocument(t, filepath.Join(installRoot, "distribution", "policies.json"))
	if !reflect.DeepEqual(expectedDocument, actualDocument) {
		t.Fatalf("unexpected document: %v", actualDocument)
	}
}

func TestInstallClearsSupersededCertificateEntry(t *testing.T) {
	installRoot := t.TempDir()
	certificateDirectory := filepath.Join(t.TempDir(), "mozilla", "certificates")
	testHarness := newHarness(browser.PlatformLinux, policy.ProviderConfiguration{CertificateDirectory: certificateDirectory})
	instance := testInstance(t, "70.0.0", installRoot)
	policyPath := testHarness.provider.PolicyPath(installRoot)
	mustWriteDocument(t, policyPath, map[string]any{
		"policies": map[string]any{
			"Certificates": map[string]any{
				"Install": []any{"/opt/crawlink-tray/auth/root-ca.crt"},
			},
		},
	})

	if err := testHarness.writer.InstallPolicy(context.Background(), instance, testCertificatePEM()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedDocument := map[string]any{"policies": map[string]any{"Certificates": map[string]any{"Install": []any{"crawlink-tray.crt"}}}}
	actualDocument := mustReadDocument(t, policyPath)
	if !reflect.DeepEqual(expectedDocument, actualDocument) {
		t.Fatalf("unexpected document: %v", actualDocument)
	}
}

func TestInstallSpawnsRestartPromptForRunningInstance(t *testing.T) {
	installRoot := t.TempDir()
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "70.0.0", installRoot)
	runningPaths := map[string]bool{instance.ExecutablePath: true}

	report := testHarness.orchestrator.Install(context.Background(), []browser.Instance{instance}, testCertificatePEM(), []string{"localhost"}, runningPaths)
	outcome := report.Outcomes[0]
	if outcome.RestartAction != policy.RestartPromptSpawned {
		t.Fatalf("unexpected restart action: %v", outcome.RestartAction)
	}
	if len(testHarness.spawner.spawned) != 1 {
		t.Fatalf("expected one spawn, got %d", len(testHarness.spawner.spawned))
	}
	spawned := testHarness.spawner.spawned[0]
	expected := []string{instance.ExecutablePath, "-private", "about:restartrequired"}
	if !reflect.DeepEqual(spawned, expected) {
		t.Fatalf("unexpected spawn: %v", spawned)
	}
}

func TestInstallWarnsWhenSpawnFails(t *testing.T) {
	installRoot := t.TempDir()
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	testHarness.spawner.errs = []error{errors.New("executable vanished")}
	instance := testInstance(t, "70.0.0", installRoot)
	runningPaths := map[string]bool{instance.ExecutablePath: true}

	report := testHarness.orchestrator.Install(context.Background(), []browser.Instance{instance}, testCertificatePEM(), []string{"localhost"}, runningPaths)
	if report.Outcomes[0].RestartAction != policy.RestartManualRequired {
		t.Fatalf("unexpected restart action: %v", report.Outcomes[0].RestartAction)
	}
}

func TestInstallWarnsWithoutSpawnForOldVersions(t *testing.T) {
	installRoot := t.TempDir()
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "58.0.0", installRoot)
	runningPaths := map[string]bool{instance.ExecutablePath: true}

	report := testHarness.orchestrator.Install(context.Background(), []browser.Instance{instance}, testCertificatePEM(), []string{"localhost"}, runningPaths)
	if report.Outcomes[0].RestartAction != policy.RestartManualRequired {
		t.Fatalf("unexpected restart action: %v", report.Outcomes[0].RestartAction)
	}
	if len(testHarness.spawner.spawned) != 0 {
		t.Fatalf("expected no spawn attempts, got %v", testHarness.spawner.spawned)
	}
}

func TestInstallIsolatesInstanceFailures(t *testing.T) {
	brokenRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(brokenRoot, "distribution"), []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	healthyRoot := t.TempDir()
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instances := []browser.Instance{
		testInstance(t, "70.0.0", brokenRoot),
		testInstance(t, "70.0.0", healthyRoot),
	}

	report := testHarness.orchestrator.Install(context.Background(), instances, testCertificatePEM(), []string{"localhost"}, map[string]bool{})
	if report.FailureCount() != 1 {
		t.Fatalf("expected one failure, got %d", report.FailureCount())
	}
	if report.Outcomes[0].Err == nil {
		t.Fatalf("expected first instance to fail")
	}
	if report.Outcomes[1].Err != nil {
		t.Fatalf("expected second instance to succeed, got %v", report.Outcomes[1].Err)
	}
	if _, statErr := os.Stat(filepath.Join(healthyRoot, "distribution", "policies.json")); statErr != nil {
		t.Fatalf("expected policy written for healthy instance: %v", statErr)
	}
}

func TestUninstallKeepsEnterpriseRootPolicyInPlace(t *testing.T) {
	installRoot := t.TempDir()
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "70.0.0", installRoot)
	policyPath := testHarness.provider.PolicyPath(installRoot)
	mustWriteDocument(t, policyPath, map[string]any{"policies": map[string]any{"Certificates": map[string]any{"ImportEnterpriseRoots": true}}})
	before, err := os.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("read %s: %v", policyPath, err)
	}

	report := testHarness.orchestrator.Uninstall(context.Background(), []browser.Instance{instance})
	if report.FailureCount() != 0 {
		t.Fatalf("expected no failures, got %d", report.FailureCount())
	}
	after, err := os.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("read %s: %v", policyPath, err)
	}
	if string(before) != string(after) {
		t.Fatalf("expected policy file to stay in place")
	}
}

func TestUninstallSubtractsLinuxCertificateEntry(t *testing.T) {
	installRoot := t.TempDir()
	certificateDirectory := filepath.Join(t.TempDir(), "mozilla", "certificates")
	testHarness := newHarness(browser.PlatformLinux, policy.ProviderConfiguration{CertificateDirectory: certificateDirectory})
	instance := testInstance(t, "70.0.0", installRoot)
	policyPath := testHarness.provider.PolicyPath(installRoot)
	mustWriteDocument(t, policyPath, map[string]any{
		"policies": map[string]any{
			"DisableTelemetry": true,
			"Certificates": map[string]any{
				"Install": []any{"crawlink-tray.crt"},
			},
		},
	})

	report := testHarness.orchestrator.Uninstall(context.Background(), []browser.Instance{instance})
	if report.FailureCount() != 0 {
		t.Fatalf("expected no failures, got %d", report.FailureCount())
	}

	expectedDocument := map[string]any{"policies": map[string]any{"DisableTelemetry": true}}
	actualDocument := mustReadDocument(t, policyPath)
	if !reflect.DeepEqual(expectedDocument, actualDocument) {
		t.Fatalf("unexpected document: %v", actualDocument)
	}
}

func TestUninstallToleratesMissingPolicyFile(t *testing.T) {
	testHarness := newHarness(browser.PlatformLinux, policy.ProviderConfiguration{CertificateDirectory: filepath.Join(t.TempDir(), "certificates")})
	instance := testInstance(t, "70.0.0", t.TempDir())

	report := testHarness.orchestrator.Uninstall(context.Background(), []browser.Instance{instance})
	if report.FailureCount() != 0 {
		t.Fatalf("expected no failures, got %d", report.FailureCount())
	}
}

func TestUninstallUsesFallbackBelowThreshold(t *testing.T) {
	testHarness := newHarness(browser.PlatformWindows, policy.ProviderConfiguration{RegistryAccessor: &fakeRegistryAccessor{}})
	instance := testInstance(t, "58.0.0", t.TempDir())

	report := testHarness.orchestrator.Uninstall(context.Background(), []browser.Instance{instance})
	if report.FailureCount() != 0 {
		t.Fatalf("expected no failures, got %d", report.FailureCount())
	}
	if len(testHarness.fallback.uninstalls) != 1 || testHarness.fallback.uninstalls[0] != "Firefox" {
		t.Fatalf("unexpected fallback uninstalls: %v", testHarness.fallback.uninstalls)
	}
}

func TestPolicyPathNestsInsideMacBundles(t *testing.T) {
	configuration := policy.ProviderConfiguration{
		PreferenceStore:    prefstore.NewStore(&recordingCommandRunner{}),
		UserPreferenceRoot: "/Users/tester/Library/Preferences",
	}
	provider := policy.NewProvider(browser.PlatformMac, configuration)
	expected := filepath.Join("/Applications/Firefox.app", "Contents", "Resources", "distribution", "policies.json")
	if actual := provider.PolicyPath("/Applications/Firefox.app"); actual != expected {
		t.Fatalf("unexpected policy path: %q", actual)
	}

	flatProvider := policy.NewProvider(browser.PlatformLinux, policy.ProviderConfiguration{})
	expectedFlat := filepath.Join("/usr/lib/firefox", "distribution", "policies.json")
	if actual := flatProvider.PolicyPath("/usr/lib/firefox"); actual != expectedFlat {
		t.Fatalf("unexpected policy path: %q", actual)
	}
}
