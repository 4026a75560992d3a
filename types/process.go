package types

import "time"

// ProcessID identifies a single running backup or restore within a
// client's Status.
type ProcessID uint64

// ProcessAction names the kind of work a Process represents.
type ProcessAction string

// Process actions the status registry understands.
const (
	ActionIncrFile    ProcessAction = "incr_file"
	ActionFullFile    ProcessAction = "full_file"
	ActionIncrImage   ProcessAction = "incr_image"
	ActionFullImage   ProcessAction = "full_image"
	ActionResumeFile  ProcessAction = "resume_file"
	ActionResumeImage ProcessAction = "resume_image"
	ActionRestoreFile ProcessAction = "restore_file"
	ActionRestoreImage ProcessAction = "restore_image"
	ActionUpdate      ProcessAction = "update"
)

// PingTimeout is how long a process may go without a liveness ping before
// RemoveTimedOutProcesses considers it dead.
const PingTimeout = 180 * time.Second

// Process is a single running backup or restore, as tracked by the
// status registry (C9).
type Process struct {
	ID     ProcessID
	Action ProcessAction

	PCDone  int // percent done, 0-100, -1 if indeterminate
	ETAMs   int64
	StartTime time.Time

	TotalBytes uint64
	DoneBytes  uint64
	SpeedBps   float64

	Details string

	// Refs counts concurrent holders of this process handle; Unref
	// removes the process from the registry once Refs drops to 0, and
	// RemoveTimedOutProcesses removes it once LastPing is older than
	// PingTimeout, whatever Refs is.
	Refs int

	StopRequested bool

	// LastPing is updated by the owning worker to show the process is
	// still alive; RemoveTimedOutProcesses uses it against PingTimeout.
	LastPing time.Time
}

// Status is the per-client record the registry exposes: liveness,
// network identity, last error, and the set of processes currently
// running for that client.
type Status struct {
	ClientName string
	Online     bool
	IP         string
	LastError  string

	Processes []Process
}
