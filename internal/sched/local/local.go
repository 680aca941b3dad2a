package local

import (
	"github.com/hpcrun/hpcrun/internal/sched"
)

type Synthesizer struct{}

func New() *Synthesizer { return &Synthesizer{} }

func (s *Synthesizer) Kind() sched.Kind { return sched.Local }

// Synthesize passes the user command through with no scheduler prefix.
// Multi-process topologies without a scheduler go through the SSH fan-out
// launcher instead of command synthesis.
func (s *Synthesizer) Synthesize(topo sched.Topology, opts sched.Options, userCmd []string) (sched.LaunchCommand, error) {
	if len(userCmd) == 0 {
		return sched.LaunchCommand{}, sched.ConfigError{Message: "no command to launch"}
	}
	if opts.Batch {
		return sched.LaunchCommand{}, sched.UnsupportedSchedulerError{Scheduler: sched.Local, Op: "batch submission"}
	}
	if topo.WorldSize() != 1 {
		return sched.LaunchCommand{}, sched.ConfigError{
			Field:   "procs",
			Value:   "",
			Message: "local passthrough launches a single process; multi-process runs use the fan-out launcher",
		}
	}
	args := make([]string, len(userCmd))
	copy(args, userCmd)
	return sched.LaunchCommand{Args: args, Env: map[string]string{}}, nil
}
