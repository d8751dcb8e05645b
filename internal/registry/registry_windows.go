//go:build windows

package registry

import (
	windowsregistry "golang.org/x/sys/windows/registry"
)

// SystemAccessor implements Accessor against the live Windows registry.
type SystemAccessor struct{}

// NewSystemAccessor constructs the platform Accessor.
func NewSystemAccessor() Accessor {
	return SystemAccessor{}
}

// ReadInteger returns the integer value stored at the key, reporting absence
// when the key or value does not exist or cannot be read.
func (SystemAccessor) ReadInteger(scope Scope, keyPath string, valueName string) (int64, bool) {
	key, openErr := windowsregistry.OpenKey(rootKey(scope), keyPath, windowsregistry.QUERY_VALUE)
	if openErr != nil {
		return 0, false
	}
	defer key.Close()
	value, _, readErr := key.GetIntegerValue(valueName)
	if readErr != nil {
		return 0, false
	}
	return int64(value), true
}

// WriteInteger stores the value as a DWORD, creating the key path as needed.
func (SystemAccessor) WriteInteger(scope Scope, keyPath string, valueName string, value int64) bool {
	key, _, createErr := windowsregistry.CreateKey(rootKey(scope), keyPath, windowsregistry.SET_VALUE)
	if createErr != nil {
		return false
	}
	defer key.Close()
	return key.SetDWordValue(valueName, uint32(value)) == nil
}

func rootKey(scope Scope) windowsregistry.Key {
	if scope == ScopeMachine {
		return windowsregistry.LOCAL_MACHINE
	}
	return windowsregistry.CURRENT_USER
}
