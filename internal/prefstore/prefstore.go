// Package prefstore reads and writes macOS preference domains through the
// defaults command. Reads report absence instead of errors because a missing
// key and a failed read are indistinguishable to callers deciding policy
// state.
package prefstore

import (
	"context"

	"github.com/crawlinknetworks/tray/internal/system"
)

const commandNameDefaults = "defaults"

// Store accesses preference domains by path.
type Store struct {
	commandRunner system.CommandRunner
}

// NewStore constructs a Store.
func NewStore(commandRunner system.CommandRunner) Store {
	return Store{commandRunner: commandRunner}
}

// ReadString returns the raw string value of key within the domain, reporting
// absence when the domain or key cannot be read.
func (store Store) ReadString(ctx context.Context, domainPath string, key string) (string, bool) {
	output, err := store.commandRunner.Output(ctx, commandNameDefaults, []string{"read", domainPath, key})
	if err != nil {
		return "", false
	}
	return output, true
}

// WriteBool stores a boolean value for key within the domain and reports
// whether the write succeeded.
func (store Store) WriteBool(ctx context.Context, domainPath string, key string, value bool) bool {
	booleanLiteral := "FALSE"
	if value {
		booleanLiteral = "TRUE"
	}
	err := store.commandRunner.Run(ctx, commandNameDefaults, []string{"write", domainPath, key, "-bool", booleanLiteral})
	return err == nil
}
