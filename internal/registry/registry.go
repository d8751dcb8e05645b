// Package registry exposes the narrow slice of the Windows registry the
// policy installers read and write. Non-Windows builds receive an accessor
// that reports every value as absent.
package registry

// Scope selects the registry hive a value lives under.
type Scope string

const (
	// ScopeUser addresses the per-user hive.
	ScopeUser Scope = "user"
	// ScopeMachine addresses the machine-wide hive.
	ScopeMachine Scope = "machine"
)

// Accessor reads and writes integer registry values. Reads report absence
// instead of errors; writes report plain success.
type Accessor interface {
	ReadInteger(scope Scope, keyPath string, valueName string) (int64, bool)
	WriteInteger(scope Scope, keyPath string, valueName string, value int64) bool
}
