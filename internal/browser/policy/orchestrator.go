package policy

import (
	"context"

	"github.com/crawlinknetworks/tray/internal/browser"
	"github.com/crawlinknetworks/tray/internal/certificates"
	"github.com/crawlinknetworks/tray/internal/system"
	"github.com/crawlinknetworks/tray/pkg/logging"
)

// FallbackInstaller installs trust through the legacy auto-config mechanism
// for instances too old to honor native policy.
type FallbackInstaller interface {
	InstallAutoConfigScript(ctx context.Context, instance browser.Instance, certificateBase64 string, hostNames ...string) error
	UninstallAutoConfigScript(ctx context.Context, instance browser.Instance) error
}

// RestartAction records how a running instance was asked to pick up the
// change: not at all (it was not running), through a spawned
// about:restartrequired prompt, or by warning that a manual restart is
// needed.
type RestartAction string

const (
	RestartNotRequired    RestartAction = "not-required"
	RestartPromptSpawned  RestartAction = "prompt-spawned"
	RestartManualRequired RestartAction = "manual-required"
)

// InstanceOutcome records what one pass did for a single instance.
type InstanceOutcome struct {
	Instance      browser.Instance
	UsedPolicy    bool
	UsedFallback  bool
	RestartAction RestartAction
	Err           error
}

// Report aggregates per-instance outcomes for one pass.
type Report struct {
	Outcomes []InstanceOutcome
}

// FailureCount returns how many instances ended with an error.
func (report Report) FailureCount() int {
	failures := 0
	for _, outcome := range report.Outcomes {
		if outcome.Err != nil {
			failures++
		}
	}
	return failures
}

// Orchestrator drives install and uninstall passes across discovered
// instances. The unit of failure isolation is one instance; an error there
// never aborts the rest of the pass.
type Orchestrator struct {
	provider Provider
	selector Selector
	writer   Writer
	fallback FallbackInstaller
	spawner  system.ProcessSpawner
	logs     *logging.Service
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(provider Provider, selector Selector, writer Writer, fallback FallbackInstaller, spawner system.ProcessSpawner, logs *logging.Service) Orchestrator {
	return Orchestrator{
		provider: provider,
		selector: selector,
		writer:   writer,
		fallback: fallback,
		spawner:  spawner,
		logs:     logs,
	}
}

// Install applies trust for each instance, native policy or legacy fallback,
// then prompts instances that are currently running to restart.
func (orchestrator Orchestrator) Install(ctx context.Context, instances []browser.Instance, certificatePEM []byte, hostNames []string, runningPaths map[string]bool) Report {
	report := Report{}
	for _, instance := range instances {
		outcome := orchestrator.installInstance(ctx, instance, certificatePEM, hostNames)
		if runningPaths[instance.ExecutablePath] {
			outcome.RestartAction = orchestrator.promptRestart(instance)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report
}

// Uninstall retracts trust for each instance, mirroring the strategy the
// install pass would choose for it.
func (orchestrator Orchestrator) Uninstall(ctx context.Context, instances []browser.Instance) Report {
	report := Report{}
	for _, instance := range instances {
		outcome := InstanceOutcome{Instance: instance, RestartAction: RestartNotRequired}
		if orchestrator.selector.HonorsPolicy(instance) {
			outcome.UsedPolicy = true
			if err := orchestrator.writer.UninstallPolicy(ctx, instance); err != nil {
				outcome.Err = err
				orchestrator.logs.Warn("unable to remove enterprise policy",
					logging.String("browser", instance.Name),
					logging.String("path", instance.InstallPath),
					logging.ErrorField(err))
			}
		} else {
			outcome.UsedFallback = true
			orchestrator.logs.Info("uninstalling auto-config script",
				logging.String("browser", instance.Name),
				logging.String("path", instance.InstallPath))
			if err := orchestrator.fallback.UninstallAutoConfigScript(ctx, instance); err != nil {
				outcome.Err = err
				orchestrator.logs.Warn("unable to remove auto-config script",
					logging.String("browser", instance.Name),
					logging.String("path", instance.InstallPath),
					logging.ErrorField(err))
			}
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report
}

func (orchestrator Orchestrator) installInstance(ctx context.Context, instance browser.Instance, certificatePEM []byte, hostNames []string) InstanceOutcome {
	outcome := InstanceOutcome{Instance: instance, RestartAction: RestartNotRequired}
	if orchestrator.selector.HonorsPolicy(instance) {
		outcome.UsedPolicy = true
		policyPath := orchestrator.provider.PolicyPath(instance.InstallPath)
		orchestrator.logs.Info("installing enterprise root certificate policy",
			logging.String("browser", instance.Name),
			logging.String("path", policyPath))
		if err := orchestrator.writer.InstallPolicy(ctx, instance, certificatePEM); err != nil {
			outcome.Err = err
			orchestrator.logs.Error("could not install enterprise policy", err,
				logging.String("browser", instance.Name),
				logging.String("path", policyPath))
		}
		return outcome
	}

	outcome.UsedFallback = true
	certificateBase64, encodeErr := certificates.EncodeCertificateBase64(certificatePEM)
	if encodeErr != nil {
		outcome.Err = encodeErr
		orchestrator.logs.Warn("unable to prepare certificate for auto-config script",
			logging.String("browser", instance.Name),
			logging.String("path", instance.InstallPath),
			logging.ErrorField(encodeErr))
		return outcome
	}
	orchestrator.logs.Info("installing auto-config script",
		logging.String("browser", instance.Name),
		logging.String("path", instance.InstallPath))
	if err := orchestrator.fallback.InstallAutoConfigScript(ctx, instance, certificateBase64, hostNames...); err != nil {
		outcome.Err = err
		orchestrator.logs.Warn("unable to install auto-config script",
			logging.String("browser", instance.Name),
			logging.String("path", instance.InstallPath),
			logging.ErrorField(err))
	}
	return outcome
}

// promptRestart opens the restart-required page in a private window when the
// build supports it. Spawn failures degrade to the manual-restart warning.
func (orchestrator Orchestrator) promptRestart(instance browser.Instance) RestartAction {
	if instance.HasVersion() && instance.Version.Compare(restartRequiredPageVersion) >= 0 {
		if spawnErr := orchestrator.spawner.Spawn(instance.ExecutablePath, "-private", "about:restartrequired"); spawnErr == nil {
			return RestartPromptSpawned
		}
	}
	orchestrator.logs.Warn("browser must be restarted for changes to take effect",
		logging.String("browser", instance.Name))
	return RestartManualRequired
}
