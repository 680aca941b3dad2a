package flux

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hpcrun/hpcrun/internal/sched"
)

type Synthesizer struct{}

func New() *Synthesizer { return &Synthesizer{} }

func (s *Synthesizer) Kind() sched.Kind { return sched.Flux }

// Synthesize renders a flux run invocation with node and task counts
// matching the topology, constrained to the topology's node set.
func (s *Synthesizer) Synthesize(topo sched.Topology, opts sched.Options, userCmd []string) (sched.LaunchCommand, error) {
	if len(userCmd) == 0 {
		return sched.LaunchCommand{}, sched.ConfigError{Message: "no command to launch"}
	}
	if topo.NumNodes() == 0 || topo.ProcsPerNode < 1 {
		return sched.LaunchCommand{}, sched.ConfigError{Message: "empty topology"}
	}
	if opts.Batch {
		return sched.LaunchCommand{}, sched.UnsupportedSchedulerError{Scheduler: sched.Flux, Op: "batch submission"}
	}

	args := []string{"flux", "run",
		"-N", strconv.Itoa(topo.NumNodes()),
		"-n", strconv.Itoa(topo.WorldSize()),
	}
	if opts.GPUsPerProc > 0 {
		args = append(args, "-g", strconv.Itoa(opts.GPUsPerProc))
	}
	if opts.JobName != "" {
		args = append(args, fmt.Sprintf("--job-name=%s", opts.JobName))
	}
	if opts.TimeLimitMinutes > 0 {
		args = append(args, "-t", fmt.Sprintf("%dm", opts.TimeLimitMinutes))
	}
	if opts.WorkDir != "" {
		args = append(args, fmt.Sprintf("--cwd=%s", opts.WorkDir))
	}
	args = append(args, fmt.Sprintf("--requires=host:%s", strings.Join(topo.NodeNames, ",")))
	args = append(args, opts.LauncherFlags...)
	args = append(args, userCmd...)

	env := map[string]string{}
	if opts.SaveHostlist {
		env["HPCRUN_HOSTLIST"] = strings.Join(topo.NodeNames, ",")
	}
	return sched.LaunchCommand{Args: args, Env: env}, nil
}
