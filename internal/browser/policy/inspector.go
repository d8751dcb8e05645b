package policy

import (
	"context"

	"github.com/crawlinknetworks/tray/internal/browser"
	"github.com/crawlinknetworks/tray/internal/jsonstore"
)

// Inspector answers whether trust policy is already in place for an
// instance. It never mutates browser state.
type Inspector struct {
	provider  Provider
	documents jsonstore.Store
}

// NewInspector constructs an Inspector.
func NewInspector(provider Provider, documents jsonstore.Store) Inspector {
	return Inspector{provider: provider, documents: documents}
}

// HasPolicy reports whether the platform's policy document is present in the
// instance's policy file or the alternate marker is set. Unreadable policy
// files count as absent.
func (inspector Inspector) HasPolicy(ctx context.Context, instance browser.Instance) bool {
	policyPath := inspector.provider.PolicyPath(instance.InstallPath)
	contains, err := inspector.documents.Contains(policyPath, inspector.provider.InstallDocument())
	if err == nil && contains {
		return true
	}
	return inspector.provider.HasAlternateMarker(ctx, instance)
}
