package launch

import (
	"testing"

	"github.com/hpcrun/hpcrun/internal/sched"
)

func TestNewRendezvous(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"node01", "node02"}, ProcsPerNode: 4}
	rv := NewRendezvous(topo, 0)
	if rv.Addr != "node01" {
		t.Errorf("addr = %s, want node01", rv.Addr)
	}
	if rv.Port != DefaultPort {
		t.Errorf("port = %d, want %d", rv.Port, DefaultPort)
	}
	if rv.WorldSize != 8 {
		t.Errorf("world size = %d, want 8", rv.WorldSize)
	}
}

func TestResolvePort(t *testing.T) {
	tests := []struct {
		name       string
		flagPort   int
		env        sched.MapEnviron
		configPort int
		want       int
	}{
		{"default", 0, sched.MapEnviron{}, 0, DefaultPort},
		{"flag wins", 29500, sched.MapEnviron{"HPCRUN_PORT": "1234"}, 5678, 29500},
		{"env over config", 0, sched.MapEnviron{"HPCRUN_PORT": "1234"}, 5678, 1234},
		{"config over default", 0, sched.MapEnviron{}, 5678, 5678},
		{"bad env ignored", 0, sched.MapEnviron{"HPCRUN_PORT": "nope"}, 0, DefaultPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolvePort(tt.flagPort, tt.env, tt.configPort); got != tt.want {
				t.Errorf("ResolvePort = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProcessEnv(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"node01", "node02"}, ProcsPerNode: 4}
	rv := NewRendezvous(topo, 23456)

	env, err := rv.ProcessEnv(5)
	if err != nil {
		t.Fatalf("ProcessEnv: %v", err)
	}
	want := map[string]string{
		"MASTER_ADDR":      "node01",
		"MASTER_PORT":      "23456",
		"WORLD_SIZE":       "8",
		"LOCAL_WORLD_SIZE": "4",
		"RANK":             "5",
		"LOCAL_RANK":       "1",
	}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("%s = %q, want %q", k, env[k], v)
		}
	}
	node, err := rv.NodeIndex(5)
	if err != nil {
		t.Fatalf("NodeIndex: %v", err)
	}
	if node != 1 {
		t.Errorf("node index = %d, want 1", node)
	}
}

func TestProcessEnvIdempotent(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"a", "b"}, ProcsPerNode: 2}
	rv := NewRendezvous(topo, 23456)
	first, err := rv.ProcessEnv(3)
	if err != nil {
		t.Fatalf("ProcessEnv: %v", err)
	}
	second, err := rv.ProcessEnv(3)
	if err != nil {
		t.Fatalf("ProcessEnv: %v", err)
	}
	for k, v := range first {
		if second[k] != v {
			t.Errorf("%s changed between calls: %q vs %q", k, v, second[k])
		}
	}
}

func TestProcessEnvOutOfRange(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"a"}, ProcsPerNode: 2}
	rv := NewRendezvous(topo, 23456)
	for _, idx := range []int{-1, 2, 100} {
		_, err := rv.ProcessEnv(idx)
		if _, ok := err.(RankRangeError); !ok {
			t.Errorf("ProcessEnv(%d): want RankRangeError, got %v", idx, err)
		}
	}
	// Boundary indices are valid.
	for _, idx := range []int{0, 1} {
		if _, err := rv.ProcessEnv(idx); err != nil {
			t.Errorf("ProcessEnv(%d): %v", idx, err)
		}
	}
}

func TestSchedulerIdentitySlurm(t *testing.T) {
	env := sched.MapEnviron{
		"SLURM_NTASKS": "8",
		"SLURM_PROCID": "5",
		"SLURM_LOCALID": "1",
		"SLURM_NNODES": "2",
	}
	id, err := SchedulerIdentity(sched.Slurm, env)
	if err != nil {
		t.Fatalf("SchedulerIdentity: %v", err)
	}
	want := Identity{Rank: 5, LocalRank: 1, WorldSize: 8, LocalWorldSize: 4}
	if id != want {
		t.Errorf("identity = %+v, want %+v", id, want)
	}
}

func TestSchedulerIdentityFlux(t *testing.T) {
	env := sched.MapEnviron{
		"FLUX_JOB_SIZE":      "4",
		"FLUX_TASK_RANK":     "3",
		"FLUX_TASK_LOCAL_ID": "1",
		"FLUX_JOB_NNODES":    "2",
	}
	id, err := SchedulerIdentity(sched.Flux, env)
	if err != nil {
		t.Fatalf("SchedulerIdentity: %v", err)
	}
	want := Identity{Rank: 3, LocalRank: 1, WorldSize: 4, LocalWorldSize: 2}
	if id != want {
		t.Errorf("identity = %+v, want %+v", id, want)
	}
}

func TestSchedulerIdentityLSF(t *testing.T) {
	// blaunch task IDs start at 1.
	env := sched.MapEnviron{
		"LSF_PM_TASKID":  "6",
		"LSB_MCPU_HOSTS": "h1 4 h2 4",
	}
	id, err := SchedulerIdentity(sched.LSF, env)
	if err != nil {
		t.Fatalf("SchedulerIdentity: %v", err)
	}
	want := Identity{Rank: 5, LocalRank: 1, WorldSize: 8, LocalWorldSize: 4}
	if id != want {
		t.Errorf("identity = %+v, want %+v", id, want)
	}
}

func TestSchedulerIdentityMissingVars(t *testing.T) {
	_, err := SchedulerIdentity(sched.Slurm, sched.MapEnviron{})
	if _, ok := err.(sched.AllocationError); !ok {
		t.Fatalf("want AllocationError, got %v", err)
	}
}

func TestSchedulerIdentityLocalUnsupported(t *testing.T) {
	_, err := SchedulerIdentity(sched.Local, sched.MapEnviron{})
	if _, ok := err.(sched.UnsupportedSchedulerError); !ok {
		t.Fatalf("want UnsupportedSchedulerError, got %v", err)
	}
}
