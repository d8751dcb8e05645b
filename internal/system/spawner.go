package system

import (
	"fmt"
	"os/exec"
)

// ProcessSpawner starts detached processes that outlive the caller.
type ProcessSpawner interface {
	Spawn(executable string, arguments ...string) error
}

// ExecutableSpawner implements ProcessSpawner using the local operating system.
type ExecutableSpawner struct{}

// NewExecutableSpawner constructs an ExecutableSpawner.
func NewExecutableSpawner() ExecutableSpawner {
	return ExecutableSpawner{}
}

// Spawn starts the executable and releases it without waiting for completion.
func (executableSpawner ExecutableSpawner) Spawn(executable string, arguments ...string) error {
	command := exec.Command(executable, arguments...)
	if err := command.Start(); err != nil {
		return fmt.Errorf("start %s: %w", executable, err)
	}
	if command.Process != nil {
		if err := command.Process.Release(); err != nil {
			return fmt.Errorf("release %s: %w", executable, err)
		}
	}
	return nil
}
