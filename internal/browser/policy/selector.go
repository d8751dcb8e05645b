package policy

import (
	"github.com/Masterminds/semver/v3"

	"github.com/crawlinknetworks/tray/internal/browser"
	"github.com/crawlinknetworks/tray/pkg/logging"
)

// Selector decides whether an instance's build honors native policy
// installs.
type Selector struct {
	minimumVersion *semver.Version
	logs           *logging.Service
}

// NewSelector constructs a Selector for the platform's minimum version.
func NewSelector(platform browser.Platform, logs *logging.Service) Selector {
	return Selector{minimumVersion: MinimumPolicyVersion(platform), logs: logs}
}

// HonorsPolicy reports whether the instance meets the platform minimum.
// Instances without version information never honor policy; those fall back
// to the auto-config mechanism.
func (selector Selector) HonorsPolicy(instance browser.Instance) bool {
	if !instance.HasVersion() {
		selector.logs.Warn("no version information available",
			logging.String("browser", instance.Name),
			logging.String("path", instance.InstallPath))
		return false
	}
	return instance.Version.Compare(selector.minimumVersion) >= 0
}
