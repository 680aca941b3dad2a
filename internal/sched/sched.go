package sched

import (
	"fmt"
	"os"
)

// Kind identifies a job scheduler. The set is closed: every kind maps to
// exactly one Synthesizer strategy.
type Kind string

const (
	Slurm Kind = "slurm"
	LSF   Kind = "lsf"
	Flux  Kind = "flux"
	Local Kind = "local"
)

// ParseKind maps a user-supplied scheduler name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Slurm, LSF, Flux, Local:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown scheduler: %q (expected slurm, lsf, flux or local)", s)
}

// Environ abstracts process environment reads so detection and allocation
// lookups can run against a fake environment in tests.
type Environ interface {
	Getenv(key string) string
}

type osEnviron struct{}

func (osEnviron) Getenv(key string) string { return os.Getenv(key) }

// OSEnviron returns an Environ backed by the real process environment.
func OSEnviron() Environ { return osEnviron{} }

// MapEnviron is a fixed in-memory environment.
type MapEnviron map[string]string

func (m MapEnviron) Getenv(key string) string { return m[key] }

// Topology is the scheduler-independent shape of a job: an ordered node
// sequence and a uniform process count per node. Rank 0 is always the first
// process on the first node.
type Topology struct {
	NodeNames    []string
	ProcsPerNode int
}

// WorldSize is the total number of processes in the job.
func (t Topology) WorldSize() int { return len(t.NodeNames) * t.ProcsPerNode }

// NumNodes is the number of nodes in the job.
func (t Topology) NumNodes() int { return len(t.NodeNames) }

// Options carries scheduler pass-through settings that do not affect the
// topology itself: accounting, placement and batch-mode knobs.
type Options struct {
	JobName          string
	Partition        string
	Account          string
	Reservation      string
	TimeLimitMinutes int
	WorkDir          string
	GPUsPerProc      int
	LauncherFlags    []string
	Batch            bool
	SaveHostlist     bool
}

// LaunchCommand is a fully rendered scheduler invocation: argv tokens plus
// extra environment the launched job needs. Building one has no side
// effects; execution is a separate step.
type LaunchCommand struct {
	Args []string
	Env  map[string]string
}

// Synthesizer renders a Topology into one scheduler's native launch command.
type Synthesizer interface {
	Kind() Kind
	Synthesize(topo Topology, opts Options, userCmd []string) (LaunchCommand, error)
}
