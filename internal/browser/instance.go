package browser

import "github.com/Masterminds/semver/v3"

// Instance is an installed application discovered by the locator. It is a
// snapshot taken for one install or uninstall pass; nothing persists it.
type Instance struct {
	Name             string
	Vendor           string
	VendorlessName   string
	BundleIdentifier string
	InstallPath      string
	ExecutablePath   string
	Version          *semver.Version
}

// HasVersion reports whether version detection succeeded for the instance.
func (instance Instance) HasVersion() bool {
	return instance.Version != nil
}
