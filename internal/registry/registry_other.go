//go:build !windows

package registry

// SystemAccessor is the non-Windows stand-in. There is no registry here, so
// reads report absence and writes report failure.
type SystemAccessor struct{}

// NewSystemAccessor constructs the platform Accessor.
func NewSystemAccessor() Accessor {
	return SystemAccessor{}
}

// ReadInteger always reports absence.
func (SystemAccessor) ReadInteger(scope Scope, keyPath string, valueName string) (int64, bool) {
	return 0, false
}

// WriteInteger always reports failure.
func (SystemAccessor) WriteInteger(scope Scope, keyPath string, valueName string, value int64) bool {
	return false
}
