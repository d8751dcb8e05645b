package policy

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/crawlinknetworks/tray/internal/browser"
	"github.com/crawlinknetworks/tray/internal/jsonstore"
	"github.com/crawlinknetworks/tray/internal/system"
	"github.com/crawlinknetworks/tray/pkg/logging"
)

// Writer applies native trust policy for one instance. Every step is
// individually idempotent, so repeat installs converge on the same state.
type Writer struct {
	provider   Provider
	documents  jsonstore.Store
	fileSystem system.FileSystem
	logs       *logging.Service
}

// NewWriter constructs a Writer.
func NewWriter(provider Provider, documents jsonstore.Store, fileSystem system.FileSystem, logs *logging.Service) Writer {
	return Writer{provider: provider, documents: documents, fileSystem: fileSystem, logs: logs}
}

// InstallPolicy stages the certificate where the platform needs it, then
// merges the platform's policy document into the instance's policy file.
// Unrelated policy content already present is preserved.
func (writer Writer) InstallPolicy(ctx context.Context, instance browser.Instance, certificatePEM []byte) error {
	if err := writer.provider.StageCertificate(ctx, certificatePEM); err != nil {
		return fmt.Errorf("stage certificate: %w", err)
	}

	policyPath := writer.provider.PolicyPath(instance.InstallPath)
	policyDirectory := filepath.Dir(policyPath)
	if err := writer.fileSystem.EnsureDirectory(policyDirectory, 0o755); err != nil {
		return fmt.Errorf("ensure policy directory: %w", err)
	}
	if err := writer.fileSystem.Chmod(policyDirectory, 0o755); err != nil {
		return fmt.Errorf("mark policy directory traversable: %w", err)
	}

	for _, staleDocument := range writer.provider.StaleDocuments() {
		if err := writer.documents.Write(policyPath, staleDocument, false, true); err != nil {
			return fmt.Errorf("clear superseded policy entry: %w", err)
		}
	}
	if err := writer.documents.Write(policyPath, writer.provider.InstallDocument(), true, false); err != nil {
		return fmt.Errorf("write policy document: %w", err)
	}
	if err := writer.fileSystem.Chmod(policyPath, 0o644); err != nil {
		return fmt.Errorf("mark policy file readable: %w", err)
	}
	return nil
}

// UninstallPolicy subtracts the policy entry where the platform supports
// retraction. Platforms whose document grants blanket store trust keep it in
// place; retracting there could revoke trust an administrator granted for
// other reasons.
func (writer Writer) UninstallPolicy(_ context.Context, instance browser.Instance) error {
	document, removable := writer.provider.UninstallDocument()
	if !removable {
		writer.logs.Info("skipping enterprise root certificate policy uninstall",
			logging.String("browser", instance.Name),
			logging.String("path", instance.InstallPath))
		return nil
	}

	policyPath := writer.provider.PolicyPath(instance.InstallPath)
	exists, existsErr := writer.fileSystem.FileExists(policyPath)
	if existsErr != nil {
		return fmt.Errorf("check policy file: %w", existsErr)
	}
	if !exists {
		return nil
	}
	if err := writer.documents.Write(policyPath, document, false, true); err != nil {
		return fmt.Errorf("remove policy entry: %w", err)
	}
	return nil
}

// InstallAlternateMarker sets the platform-native marker in user scope and
// reports whether the underlying store accepted the write.
func (writer Writer) InstallAlternateMarker(ctx context.Context, instance browser.Instance) bool {
	return writer.provider.SetAlternateMarker(ctx, instance)
}
