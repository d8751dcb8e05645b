// Package product holds the identity constants shared across installers,
// policy documents, and the command surface.
package product

const (
	// Vendor is the publishing organization.
	Vendor = "Crawlink Networks"

	// Name is the user-facing product name.
	Name = "Crawlink Tray"

	// FileBase is the lowercase base used for files the product writes.
	FileBase = "crawlink-tray"

	// BundleIdentifier identifies the product on bundle-based platforms.
	BundleIdentifier = "com.crawlinknetworks.tray"

	// CertificateFileExtension is the extension for distributed certificates.
	CertificateFileExtension = ".crt"

	// CertificateFileName is the certificate file name browsers resolve
	// against their certificate search directories.
	CertificateFileName = FileBase + CertificateFileExtension

	// LegacyAuthorityCertificatePath is where older releases staged the root
	// certificate. Policy entries pointing at it are cleared on install.
	LegacyAuthorityCertificatePath = "/opt/" + FileBase + "/auth/root-ca.crt"

	// CertificateAuthorityCommonName names the generated root certificate.
	CertificateAuthorityCommonName = Name + " Root CA"

	// EnvironmentPrefix scopes environment variable configuration.
	EnvironmentPrefix = "TRAY"
)
