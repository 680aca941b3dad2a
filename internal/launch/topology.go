package launch

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hpcrun/hpcrun/internal/sched"
)

// ResourceRequest is the user's scheduler-agnostic intent for one launch.
// It is built once from CLI input and never mutated.
type ResourceRequest struct {
	Nodes        int
	ProcsPerNode int
	NodeList     []string
	GPUsPerProc  int
}

// Validate checks internal consistency before any allocation lookup.
func (r ResourceRequest) Validate() error {
	if r.Nodes < 1 {
		return sched.ConfigError{Field: "nodes", Value: strconv.Itoa(r.Nodes), Message: "must be at least 1"}
	}
	if r.ProcsPerNode < 1 {
		return sched.ConfigError{Field: "procs-per-node", Value: strconv.Itoa(r.ProcsPerNode), Message: "must be at least 1"}
	}
	if len(r.NodeList) > 0 && len(r.NodeList) != r.Nodes {
		return sched.ConfigError{
			Field:   "nodelist",
			Value:   strings.Join(r.NodeList, ","),
			Message: fmt.Sprintf("%d nodes listed but %d requested", len(r.NodeList), r.Nodes),
		}
	}
	return nil
}

// Normalize resolves a ResourceRequest into a canonical Topology. Node order
// follows the explicit list when one is given, otherwise the scheduler's
// native allocation order; given identical inputs the result is always the
// same, because rank assignment depends on it.
func Normalize(req ResourceRequest, kind sched.Kind, env sched.Environ) (sched.Topology, error) {
	if err := req.Validate(); err != nil {
		return sched.Topology{}, err
	}

	var nodes []string
	switch {
	case len(req.NodeList) > 0:
		nodes = append(nodes, req.NodeList...)
		if dup := firstDuplicate(nodes); dup != "" {
			return sched.Topology{}, sched.ConfigError{Field: "nodelist", Value: dup, Message: "duplicate node name"}
		}
	case kind == sched.Local:
		if req.Nodes > 1 {
			return sched.Topology{}, sched.ConfigError{
				Field:   "nodes",
				Value:   strconv.Itoa(req.Nodes),
				Message: "multi-node launch without a scheduler requires an explicit node list",
			}
		}
		nodes = []string{Hostname()}
	default:
		granted, err := allocatedNodes(kind, env)
		if err != nil {
			return sched.Topology{}, err
		}
		if len(granted) < req.Nodes {
			return sched.Topology{}, sched.AllocationError{Scheduler: kind, Requested: req.Nodes, Granted: len(granted)}
		}
		nodes = granted[:req.Nodes]
	}

	return sched.Topology{NodeNames: nodes, ProcsPerNode: req.ProcsPerNode}, nil
}

// allocatedNodes reads the scheduler's own node list from its environment.
func allocatedNodes(kind sched.Kind, env sched.Environ) ([]string, error) {
	switch kind {
	case sched.Slurm:
		list := env.Getenv("SLURM_JOB_NODELIST")
		if list == "" {
			return nil, sched.AllocationError{Scheduler: kind, Message: "SLURM_JOB_NODELIST is not set; not inside an allocation"}
		}
		nodes, err := ExpandHostlist(list)
		if err != nil {
			return nil, sched.AllocationError{Scheduler: kind, Message: err.Error()}
		}
		if v := env.Getenv("SLURM_JOB_NUM_NODES"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n != len(nodes) {
				return nil, sched.AllocationError{
					Scheduler: kind,
					Message:   fmt.Sprintf("SLURM_JOB_NUM_NODES=%d disagrees with nodelist of %d hosts", n, len(nodes)),
				}
			}
		}
		return nodes, nil
	case sched.Flux:
		list := env.Getenv("FLUX_JOB_NODELIST")
		if list == "" {
			return nil, sched.AllocationError{Scheduler: kind, Message: "FLUX_JOB_NODELIST is not set; not inside an allocation"}
		}
		nodes, err := ExpandHostlist(list)
		if err != nil {
			return nil, sched.AllocationError{Scheduler: kind, Message: err.Error()}
		}
		return nodes, nil
	case sched.LSF:
		if v := env.Getenv("LSB_MCPU_HOSTS"); v != "" {
			return parseMCPUHosts(v)
		}
		if v := env.Getenv("LSB_HOSTS"); v != "" {
			return uniqueInOrder(strings.Fields(v)), nil
		}
		return nil, sched.AllocationError{Scheduler: kind, Message: "neither LSB_MCPU_HOSTS nor LSB_HOSTS is set; not inside an allocation"}
	}
	return nil, sched.UnsupportedSchedulerError{Scheduler: kind, Op: "allocation lookup"}
}

// parseMCPUHosts parses LSF's "host1 n1 host2 n2 ..." pair format,
// preserving allocation order.
func parseMCPUHosts(v string) ([]string, error) {
	fields := strings.Fields(v)
	if len(fields)%2 != 0 {
		return nil, sched.AllocationError{Scheduler: sched.LSF, Message: fmt.Sprintf("malformed LSB_MCPU_HOSTS: %q", v)}
	}
	var nodes []string
	for i := 0; i < len(fields); i += 2 {
		if _, err := strconv.Atoi(fields[i+1]); err != nil {
			return nil, sched.AllocationError{Scheduler: sched.LSF, Message: fmt.Sprintf("malformed LSB_MCPU_HOSTS: %q", v)}
		}
		nodes = append(nodes, fields[i])
	}
	return nodes, nil
}

func uniqueInOrder(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func firstDuplicate(in []string) string {
	seen := map[string]bool{}
	for _, s := range in {
		if seen[s] {
			return s
		}
		seen[s] = true
	}
	return ""
}

// Hostname is the local host name with a stable fallback.
func Hostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}
