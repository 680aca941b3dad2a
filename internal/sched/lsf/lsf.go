package lsf

import (
	"strings"

	"github.com/hpcrun/hpcrun/internal/sched"
)

type Synthesizer struct{}

func New() *Synthesizer { return &Synthesizer{} }

func (s *Synthesizer) Kind() sched.Kind { return sched.LSF }

// Synthesize renders a blaunch invocation. LSF has no per-node task count
// flag, so the topology is re-expressed as a host-repetition list: each node
// appears ProcsPerNode times consecutively, which preserves rank order
// (rank 0 is the first entry). Allocation-level settings such as job name,
// queue and account belong to bsub and are not emitted here.
//
// Non-uniform procs-per-node is not supported; the topology is uniform by
// construction.
func (s *Synthesizer) Synthesize(topo sched.Topology, opts sched.Options, userCmd []string) (sched.LaunchCommand, error) {
	if len(userCmd) == 0 {
		return sched.LaunchCommand{}, sched.ConfigError{Message: "no command to launch"}
	}
	if topo.NumNodes() == 0 || topo.ProcsPerNode < 1 {
		return sched.LaunchCommand{}, sched.ConfigError{Message: "empty topology"}
	}
	if opts.Batch {
		return sched.LaunchCommand{}, sched.UnsupportedSchedulerError{Scheduler: sched.LSF, Op: "batch submission"}
	}

	args := []string{"blaunch"}
	args = append(args, opts.LauncherFlags...)
	args = append(args, "-z", hostRepetition(topo))
	args = append(args, userCmd...)

	env := map[string]string{}
	if opts.SaveHostlist {
		env["HPCRUN_HOSTLIST"] = strings.Join(topo.NodeNames, ",")
	}
	return sched.LaunchCommand{Args: args, Env: env}, nil
}

func hostRepetition(topo sched.Topology) string {
	hosts := make([]string, 0, topo.WorldSize())
	for _, node := range topo.NodeNames {
		for i := 0; i < topo.ProcsPerNode; i++ {
			hosts = append(hosts, node)
		}
	}
	return strings.Join(hosts, " ")
}
