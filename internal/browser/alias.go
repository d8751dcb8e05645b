package browser

import "strings"

// Alias describes one application the locator searches for, with the
// per-platform facts needed to probe installs and address policy stores.
type Alias struct {
	Name              string
	Vendor            string
	BundleIdentifier  string
	ExecutableName    string
	WindowsFolder     string
	MacBundleName     string
	LinuxInstallRoots []string
}

// VendorlessName returns the alias name with a leading vendor prefix removed.
// Registry policy keys nest the product under the vendor, so "Mozilla
// Firefox" contributes "Firefox".
func (alias Alias) VendorlessName() string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(alias.Name, alias.Vendor))
	if trimmed == "" {
		return alias.Name
	}
	return trimmed
}

// FirefoxFamily returns the Firefox-family aliases in probe order. Forks that
// share Mozilla's policy engine are included because they read the same
// policy file shape.
func FirefoxFamily() []Alias {
	return []Alias{
		{
			Name:              "Firefox",
			Vendor:            "Mozilla",
			BundleIdentifier:  "org.mozilla.firefox",
			ExecutableName:    "firefox",
			WindowsFolder:     "Mozilla Firefox",
			MacBundleName:     "Firefox.app",
			LinuxInstallRoots: []string{"/usr/lib/firefox", "/usr/lib64/firefox", "/opt/firefox", "/snap/firefox/current/usr/lib/firefox"},
		},
		{
			Name:              "Firefox Developer Edition",
			Vendor:            "Mozilla",
			BundleIdentifier:  "org.mozilla.firefoxdeveloperedition",
			ExecutableName:    "firefox",
			WindowsFolder:     "Firefox Developer Edition",
			MacBundleName:     "Firefox Developer Edition.app",
			LinuxInstallRoots: []string{"/opt/firefox-developer-edition"},
		},
		{
			Name:              "Firefox Nightly",
			Vendor:            "Mozilla",
			BundleIdentifier:  "org.mozilla.nightly",
			ExecutableName:    "firefox",
			WindowsFolder:     "Firefox Nightly",
			MacBundleName:     "Firefox Nightly.app",
			LinuxInstallRoots: []string{"/opt/firefox-nightly"},
		},
		{
			Name:              "Firefox ESR",
			Vendor:            "Mozilla",
			BundleIdentifier:  "org.mozilla.firefox",
			ExecutableName:    "firefox-esr",
			WindowsFolder:     "Mozilla Firefox ESR",
			MacBundleName:     "Firefox ESR.app",
			LinuxInstallRoots: []string{"/usr/lib/firefox-esr", "/opt/firefox-esr"},
		},
		{
			Name:              "Waterfox",
			Vendor:            "Waterfox",
			BundleIdentifier:  "net.waterfox.waterfox",
			ExecutableName:    "waterfox",
			WindowsFolder:     "Waterfox",
			MacBundleName:     "Waterfox.app",
			LinuxInstallRoots: []string{"/usr/lib/waterfox", "/opt/waterfox"},
		},
		{
			Name:              "SeaMonkey",
			Vendor:            "Mozilla",
			BundleIdentifier:  "org.mozilla.seamonkey",
			ExecutableName:    "seamonkey",
			WindowsFolder:     "SeaMonkey",
			MacBundleName:     "SeaMonkey.app",
			LinuxInstallRoots: []string{"/usr/lib/seamonkey", "/opt/seamonkey"},
		},
		{
			Name:              "Pale Moon",
			Vendor:            "Moonchild Productions",
			BundleIdentifier:  "org.mozilla.palemoon",
			ExecutableName:    "palemoon",
			WindowsFolder:     "Pale Moon",
			MacBundleName:     "Pale Moon.app",
			LinuxInstallRoots: []string{"/usr/lib/palemoon", "/opt/palemoon"},
		},
		{
			Name:              "IceCat",
			Vendor:            "GNU",
			BundleIdentifier:  "org.gnu.icecat",
			ExecutableName:    "icecat",
			WindowsFolder:     "GNU IceCat",
			MacBundleName:     "IceCat.app",
			LinuxInstallRoots: []string{"/usr/lib/icecat", "/opt/icecat"},
		},
	}
}
