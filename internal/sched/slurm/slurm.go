package slurm

import (
	"fmt"
	"strings"

	"github.com/hpcrun/hpcrun/internal/sched"
)

type Synthesizer struct{}

func New() *Synthesizer { return &Synthesizer{} }

func (s *Synthesizer) Kind() sched.Kind { return sched.Slurm }

// Synthesize renders an srun invocation (or an sbatch submission in batch
// mode) for the given topology. The user command is appended unmodified
// after all scheduler flags.
func (s *Synthesizer) Synthesize(topo sched.Topology, opts sched.Options, userCmd []string) (sched.LaunchCommand, error) {
	if len(userCmd) == 0 {
		return sched.LaunchCommand{}, sched.ConfigError{Message: "no command to launch"}
	}
	if topo.NumNodes() == 0 || topo.ProcsPerNode < 1 {
		return sched.LaunchCommand{}, sched.ConfigError{Message: "empty topology"}
	}

	var args []string
	if opts.Batch {
		args = append(args, "sbatch")
	} else {
		// Unbuffered output, interactive runs only.
		args = append(args, "srun", "-u")
	}
	args = append(args,
		fmt.Sprintf("--nodes=%d", topo.NumNodes()),
		fmt.Sprintf("--ntasks=%d", topo.WorldSize()),
		fmt.Sprintf("--ntasks-per-node=%d", topo.ProcsPerNode),
		fmt.Sprintf("--nodelist=%s", strings.Join(topo.NodeNames, ",")),
	)
	if opts.GPUsPerProc > 0 {
		args = append(args, fmt.Sprintf("--gpus-per-task=%d", opts.GPUsPerProc))
	}
	if opts.WorkDir != "" {
		args = append(args, fmt.Sprintf("--chdir=%s", opts.WorkDir))
	}
	if opts.TimeLimitMinutes > 0 {
		args = append(args, fmt.Sprintf("--time=%s", timeString(opts.TimeLimitMinutes)))
	}
	if opts.JobName != "" {
		args = append(args, fmt.Sprintf("--job-name=%s", opts.JobName))
	}
	if opts.Partition != "" {
		args = append(args, fmt.Sprintf("--partition=%s", opts.Partition))
	}
	if opts.Account != "" {
		args = append(args, fmt.Sprintf("--account=%s", opts.Account))
	}
	if opts.Reservation != "" {
		args = append(args, fmt.Sprintf("--reservation=%s", opts.Reservation))
	}
	args = append(args, opts.LauncherFlags...)

	env := map[string]string{}
	if opts.SaveHostlist {
		env["HPCRUN_HOSTLIST"] = strings.Join(topo.NodeNames, ",")
	}

	if opts.Batch {
		args = append(args, "--wrap", strings.Join(userCmd, " "))
	} else {
		args = append(args, userCmd...)
	}
	return sched.LaunchCommand{Args: args, Env: env}, nil
}

// timeString renders a minute count in SLURM's D-hh:mm:ss form.
func timeString(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	hours, mins := minutes/60, minutes%60
	days, hours := hours/24, hours%24
	return fmt.Sprintf("%d-%02d:%02d:00", days, hours, mins)
}
