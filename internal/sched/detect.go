package sched

// Detection signals, checked in order. Flux is checked before SLURM because
// LC machines run Flux instances nested inside SLURM allocations; inside
// such an instance both variables are present and Flux owns the job.
var detectSignals = []struct {
	envVar string
	kind   Kind
}{
	{"FLUX_URI", Flux},
	{"SLURM_JOB_ID", Slurm},
	{"LSB_JOBID", LSF},
}

// Detect inspects the environment for scheduler identity variables and
// returns the first matching kind. Absence of every signal means local
// interactive execution, which is a valid outcome, not an error.
func Detect(env Environ) Kind {
	for _, sig := range detectSignals {
		if env.Getenv(sig.envVar) != "" {
			return sig.kind
		}
	}
	return Local
}
