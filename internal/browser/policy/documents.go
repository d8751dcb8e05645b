package policy

// Policy documents are fixed-shape fragments merged into an install's
// policies.json. The constructors build fresh maps per call so callers can
// never mutate a shared template.

// EnterpriseRootTrustDocument trusts every root present in the operating
// system certificate store.
func EnterpriseRootTrustDocument() map[string]any {
	return map[string]any{
		"policies": map[string]any{
			"Certificates": map[string]any{
				"ImportEnterpriseRoots": true,
			},
		},
	}
}

// InstallNamedCertificateDocument installs one certificate by name or path.
// Bare names resolve against the browser's well-known certificate
// directories.
func InstallNamedCertificateDocument(certificateEntry string) map[string]any {
	return map[string]any{
		"policies": map[string]any{
			"Certificates": map[string]any{
				"Install": []any{certificateEntry},
			},
		},
	}
}
