// Package policy installs browser trust policy: a native policies.json
// document (or platform marker) for installs new enough to honor it, and a
// legacy auto-config fallback for the rest.
package policy

import (
	"github.com/Masterminds/semver/v3"

	"github.com/crawlinknetworks/tray/internal/browser"
)

// Official Firefox releases adopted the enterprise policy engine at different
// versions per platform. Forks may differ; the locator reports their real
// versions and the same minimums apply.
var minimumPolicyVersions = map[browser.Platform]*semver.Version{
	browser.PlatformWindows: semver.MustParse("62.0.0"),
	browser.PlatformMac:     semver.MustParse("63.0.0"),
	browser.PlatformLinux:   semver.MustParse("65.0.0"),
}

// restartRequiredPageVersion is the first version able to render the
// about:restartrequired page.
var restartRequiredPageVersion = semver.MustParse("60.0.0")

// MinimumPolicyVersion returns the version at which the platform's builds
// honor policy installs.
func MinimumPolicyVersion(platform browser.Platform) *semver.Version {
	if version, known := minimumPolicyVersions[platform]; known {
		return version
	}
	return minimumPolicyVersions[browser.PlatformLinux]
}
