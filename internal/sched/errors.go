package sched

import "fmt"

// ConfigError reports a malformed or self-contradictory resource request.
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error: %s=%s: %s", e.Field, e.Value, e.Message)
}

// AllocationError reports a request that exceeds what the scheduler
// actually granted.
type AllocationError struct {
	Scheduler Kind
	Requested int
	Granted   int
	Message   string
}

func (e AllocationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("allocation mismatch on %s: %s", e.Scheduler, e.Message)
	}
	return fmt.Sprintf("allocation mismatch on %s: requested %d nodes, allocation has %d", e.Scheduler, e.Requested, e.Granted)
}

// UnsupportedSchedulerError reports that no synthesis strategy exists for a
// scheduler kind on the attempted code path.
type UnsupportedSchedulerError struct {
	Scheduler Kind
	Op        string
}

func (e UnsupportedSchedulerError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("unsupported scheduler: %s", e.Scheduler)
	}
	return fmt.Sprintf("unsupported scheduler for %s: %s", e.Op, e.Scheduler)
}
