package ir

// Version constants for the IR schema and the scheduler.
const (
	// IRVersion is the IR schema version.
	IRVersion = "1"

	// SchedulerVersion is the memsched scheduler version. It is part of every
	// stored run so a replay can tell which algorithm produced a plan.
	SchedulerVersion = "0.1.0"
)
