package launch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hpcrun/hpcrun/internal/sched"
)

// DefaultPort is the rendezvous port used when neither flag, environment
// nor config overrides it. Every process computes the same value with no
// coordination, so it must be deterministic.
const DefaultPort = 23456

// PortOverrideEnv is the user-facing rendezvous port override.
const PortOverrideEnv = "HPCRUN_PORT"

// Rendezvous is the agreed endpoint and shape every process in the job
// derives its identity from. All processes must compute the identical
// value, or distributed initialization hangs.
type Rendezvous struct {
	Addr         string
	Port         int
	WorldSize    int
	ProcsPerNode int
}

// NewRendezvous derives the rendezvous from a topology: the address is the
// first node in the sequence, the port the caller's resolved choice.
func NewRendezvous(topo sched.Topology, port int) Rendezvous {
	addr := ""
	if len(topo.NodeNames) > 0 {
		addr = topo.NodeNames[0]
	}
	if port <= 0 {
		port = DefaultPort
	}
	return Rendezvous{
		Addr:         addr,
		Port:         port,
		WorldSize:    topo.WorldSize(),
		ProcsPerNode: topo.ProcsPerNode,
	}
}

// ResolvePort picks the rendezvous port: explicit flag, then the
// HPCRUN_PORT environment variable, then the config default, then
// DefaultPort.
func ResolvePort(flagPort int, env sched.Environ, configPort int) int {
	if flagPort > 0 {
		return flagPort
	}
	if v := env.Getenv(PortOverrideEnv); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			return p
		}
	}
	if configPort > 0 {
		return configPort
	}
	return DefaultPort
}

// SharedEnv returns the variables identical for every rank. These are safe
// to export once on the launch command; the scheduler propagates them.
func (r Rendezvous) SharedEnv() map[string]string {
	return map[string]string{
		"MASTER_ADDR":      r.Addr,
		"MASTER_PORT":      strconv.Itoa(r.Port),
		"WORLD_SIZE":       strconv.Itoa(r.WorldSize),
		"LOCAL_WORLD_SIZE": strconv.Itoa(r.ProcsPerNode),
	}
}

// ProcessEnv computes the full distributed environment for one global
// process index. It is pure: each spawned process can call it independently
// and arrive at the same values.
func (r Rendezvous) ProcessEnv(index int) (map[string]string, error) {
	if index < 0 || index >= r.WorldSize {
		return nil, RankRangeError{Index: index, WorldSize: r.WorldSize}
	}
	env := r.SharedEnv()
	env["RANK"] = strconv.Itoa(index)
	env["LOCAL_RANK"] = strconv.Itoa(index % r.ProcsPerNode)
	return env, nil
}

// NodeIndex returns which topology node hosts the given global index.
func (r Rendezvous) NodeIndex(index int) (int, error) {
	if index < 0 || index >= r.WorldSize {
		return 0, RankRangeError{Index: index, WorldSize: r.WorldSize}
	}
	return index / r.ProcsPerNode, nil
}

// Identity is a process's position within a running job as assigned by the
// scheduler itself.
type Identity struct {
	Rank           int
	LocalRank      int
	WorldSize      int
	LocalWorldSize int
}

// SchedulerIdentity reads the scheduler's own per-process identity
// variables. Where the scheduler already assigns rank, its answer wins over
// recomputation.
func SchedulerIdentity(kind sched.Kind, env sched.Environ) (Identity, error) {
	switch kind {
	case sched.Slurm:
		world, err := intVar(env, kind, "SLURM_NTASKS")
		if err != nil {
			return Identity{}, err
		}
		rank, err := intVar(env, kind, "SLURM_PROCID")
		if err != nil {
			return Identity{}, err
		}
		localRank, err := intVar(env, kind, "SLURM_LOCALID")
		if err != nil {
			return Identity{}, err
		}
		nodes, err := intVar(env, kind, "SLURM_NNODES")
		if err != nil {
			return Identity{}, err
		}
		if nodes < 1 {
			return Identity{}, sched.AllocationError{Scheduler: kind, Message: "SLURM_NNODES must be positive"}
		}
		return Identity{Rank: rank, LocalRank: localRank, WorldSize: world, LocalWorldSize: world / nodes}, nil
	case sched.Flux:
		world, err := intVar(env, kind, "FLUX_JOB_SIZE")
		if err != nil {
			return Identity{}, err
		}
		rank, err := intVar(env, kind, "FLUX_TASK_RANK")
		if err != nil {
			return Identity{}, err
		}
		localRank, err := intVar(env, kind, "FLUX_TASK_LOCAL_ID")
		if err != nil {
			return Identity{}, err
		}
		nodes, err := intVar(env, kind, "FLUX_JOB_NNODES")
		if err != nil {
			return Identity{}, err
		}
		if nodes < 1 {
			return Identity{}, sched.AllocationError{Scheduler: kind, Message: "FLUX_JOB_NNODES must be positive"}
		}
		return Identity{Rank: rank, LocalRank: localRank, WorldSize: world, LocalWorldSize: world / nodes}, nil
	case sched.LSF:
		// blaunch numbers tasks from 1 and provides no local rank; derive it
		// from the allocation shape.
		taskID, err := intVar(env, kind, "LSF_PM_TASKID")
		if err != nil {
			return Identity{}, err
		}
		nodes, err := allocatedNodes(sched.LSF, env)
		if err != nil {
			return Identity{}, err
		}
		perNode, err := lsfProcsPerNode(env, len(nodes))
		if err != nil {
			return Identity{}, err
		}
		rank := taskID - 1
		return Identity{
			Rank:           rank,
			LocalRank:      rank % perNode,
			WorldSize:      len(nodes) * perNode,
			LocalWorldSize: perNode,
		}, nil
	}
	return Identity{}, sched.UnsupportedSchedulerError{Scheduler: kind, Op: "identity lookup"}
}

func lsfProcsPerNode(env sched.Environ, numNodes int) (int, error) {
	if v := env.Getenv("LSB_MCPU_HOSTS"); v != "" {
		fields := strings.Fields(v)
		if len(fields) >= 2 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				return n, nil
			}
		}
	}
	if v := env.Getenv("LSB_HOSTS"); v != "" && numNodes > 0 {
		slots := len(strings.Fields(v))
		if slots%numNodes == 0 {
			return slots / numNodes, nil
		}
	}
	return 0, sched.AllocationError{Scheduler: sched.LSF, Message: "cannot derive procs per node from LSB_MCPU_HOSTS or LSB_HOSTS"}
}

func intVar(env sched.Environ, kind sched.Kind, name string) (int, error) {
	v := env.Getenv(name)
	if v == "" {
		return 0, sched.AllocationError{Scheduler: kind, Message: fmt.Sprintf("%s is not set; not inside a launched task", name)}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, sched.AllocationError{Scheduler: kind, Message: fmt.Sprintf("%s=%q is not an integer", name, v)}
	}
	return n, nil
}
