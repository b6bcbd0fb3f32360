package sandbox

// Container is the OS-level job-object containment primitive: process-group
// bounding, a max working set, a max process count, and termination-on-
// close. Its lifetime strictly contains the plugin process lifetime it
// governs.
type Container interface {
	// Assign adds pid to the container's process group.
	Assign(pid int) error

	// SetLimits applies the working-set and process-count bounds.
	SetLimits(maxWorkingSetMB int64, maxProcesses int) error

	// Throttle reduces the container's scheduling share (CPU rate, I/O
	// priority). Retains the process.
	Throttle() error

	// Suspend stops or slows the container's work. The job-object
	// implementation applies the Throttle cap; it does not freeze threads.
	Suspend() error

	// Resume undoes Suspend where the implementation can. The job-object
	// implementation does nothing, so its Throttle cap stays in place.
	Resume() error

	// Terminate kills every process in the container.
	Terminate() error

	// Close tears the container down. Terminate-on-close semantics mean any
	// process still assigned is killed.
	Close() error
}
