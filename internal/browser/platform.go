// Package browser locates installed Firefox-family applications and captures
// the platform facts that decide how trust policy reaches each install.
package browser

import (
	"path/filepath"
	"runtime"
)

// Platform identifies an operating system family. It is a plain value rather
// than a build constraint so every family's behavior stays constructible on
// any host.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMac     Platform = "mac"
	PlatformLinux   Platform = "linux"
)

// CurrentPlatform maps the running operating system to a Platform. Operating
// systems without a dedicated family resolve to PlatformLinux, which carries
// the portable filesystem behavior.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformMac
	default:
		return PlatformLinux
	}
}

// ResourcesRoot returns the directory application resources live under. Mac
// bundles nest resources below Contents/Resources; the other platforms use
// the install root directly.
func (platform Platform) ResourcesRoot(installPath string) string {
	if platform == PlatformMac {
		return filepath.Join(installPath, "Contents", "Resources")
	}
	return installPath
}
