package system

import (
	"errors"
	"io/fs"
	"os"
)

// FileSystem abstracts the file operations installers perform.
type FileSystem interface {
	EnsureDirectory(path string, permissions fs.FileMode) error
	FileExists(path string) (bool, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, content []byte, permissions fs.FileMode) error
	Remove(path string) error
	Chmod(path string, permissions fs.FileMode) error
}

// OperatingSystemFileSystem implements FileSystem against the local disk.
type OperatingSystemFileSystem struct{}

// NewOperatingSystemFileSystem constructs an OperatingSystemFileSystem.
func NewOperatingSystemFileSystem() OperatingSystemFileSystem {
	return OperatingSystemFileSystem{}
}

// EnsureDirectory creates the directory and any missing parents.
func (operatingSystemFileSystem OperatingSystemFileSystem) EnsureDirectory(path string, permissions fs.FileMode) error {
	return os.MkdirAll(path, permissions)
}

// FileExists reports whether the path exists.
func (operatingSystemFileSystem OperatingSystemFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ReadFile returns the file content.
func (operatingSystemFileSystem OperatingSystemFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes the content with the provided permissions.
func (operatingSystemFileSystem OperatingSystemFileSystem) WriteFile(path string, content []byte, permissions fs.FileMode) error {
	return os.WriteFile(path, content, permissions)
}

// Remove deletes the file, succeeding when it is already absent.
func (operatingSystemFileSystem OperatingSystemFileSystem) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Chmod applies the permissions to an existing path.
func (operatingSystemFileSystem OperatingSystemFileSystem) Chmod(path string, permissions fs.FileMode) error {
	return os.Chmod(path, permissions)
}
