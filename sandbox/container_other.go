//go:build !windows

package sandbox

import "errors"

// ErrUnsupportedPlatform is returned by the containment primitive on any
// platform other than Windows. Non-Windows builds get a stub so the rest
// of the host still links and runs, but resource governance there is
// advisory only.
var ErrUnsupportedPlatform = errors.New("sandbox: OS-level job containment is only implemented on windows")

type noopContainer struct{}

// NewContainer returns a Container stub on non-Windows platforms. Every
// mutating call reports ErrUnsupportedPlatform.
func NewContainer() (Container, error) {
	return noopContainer{}, nil
}

func (noopContainer) Assign(int) error           { return ErrUnsupportedPlatform }
func (noopContainer) SetLimits(int64, int) error { return ErrUnsupportedPlatform }
func (noopContainer) Throttle() error            { return ErrUnsupportedPlatform }
func (noopContainer) Suspend() error             { return ErrUnsupportedPlatform }
func (noopContainer) Resume() error              { return ErrUnsupportedPlatform }
func (noopContainer) Terminate() error           { return ErrUnsupportedPlatform }
func (noopContainer) Close() error               { return nil }
