//go:build windows

package sandbox

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// jobContainer wraps a Windows job object. CreateJobObject/
// AssignProcessToJobObject/SetInformationJobObject/TerminateJobObject are
// the syscalls that back it.
type jobContainer struct {
	mu     sync.Mutex
	handle windows.Handle
	closed bool
}

// NewContainer creates a fresh, empty job object.
func NewContainer() (Container, error) {
	handle, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("sandbox: CreateJobObject: %w", err)
	}
	// Terminate-on-close: every process still in the job dies when the
	// last handle to it closes.
	limitInfo := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if err := setExtendedLimitInfo(handle, &limitInfo); err != nil {
		windows.CloseHandle(handle)
		return nil, err
	}
	return &jobContainer{handle: handle}, nil
}

func setExtendedLimitInfo(handle windows.Handle, info *windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION) error {
	return windows.SetInformationJobObject(
		handle,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(info)),
		uint32(unsafe.Sizeof(*info)),
	)
}

func (c *jobContainer) Assign(pid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("sandbox: container closed")
	}
	proc, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("sandbox: OpenProcess: %w", err)
	}
	defer windows.CloseHandle(proc)
	if err := windows.AssignProcessToJobObject(c.handle, proc); err != nil {
		return fmt.Errorf("sandbox: AssignProcessToJobObject: %w", err)
	}
	return nil
}

func (c *jobContainer) SetLimits(maxWorkingSetMB int64, maxProcesses int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if maxWorkingSetMB > 0 {
		info.ProcessMemoryLimit = uintptr(maxWorkingSetMB) * 1024 * 1024
		info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_PROCESS_MEMORY
	}
	if maxProcesses > 0 {
		info.BasicLimitInformation.ActiveProcessLimit = uint32(maxProcesses)
		info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_ACTIVE_PROCESS
	}
	return setExtendedLimitInfo(c.handle, &info)
}

// Throttle applies a CPU rate cap via JOBOBJECT_CPU_RATE_CONTROL_INFORMATION.
// The retained process keeps running at a reduced scheduling share.
func (c *jobContainer) Throttle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := windows.JOBOBJECT_CPU_RATE_CONTROL_INFORMATION{
		ControlFlags: windows.JOB_OBJECT_CPU_RATE_CONTROL_ENABLE | windows.JOB_OBJECT_CPU_RATE_CONTROL_HARD_CAP,
		Value:        2500, // 25% of all processors' cycles, expressed in 1/10000ths.
	}
	return windows.SetInformationJobObject(
		c.handle,
		windows.JobObjectCpuRateControlInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
}

// Suspend applies the same CPU rate cap as Throttle; the container's
// threads keep running. Resume does nothing, so a cap applied by Suspend
// or Throttle stays in place.
func (c *jobContainer) Suspend() error { return c.Throttle() }
func (c *jobContainer) Resume() error  { return nil }

func (c *jobContainer) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return windows.TerminateJobObject(c.handle, 1)
}

func (c *jobContainer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return windows.CloseHandle(c.handle)
}
