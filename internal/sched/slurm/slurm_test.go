package slurm

import (
	"reflect"
	"strings"
	"testing"

	"github.com/hpcrun/hpcrun/internal/sched"
)

func TestSynthesize(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"node01", "node02"}, ProcsPerNode: 4}
	lc, err := New().Synthesize(topo, sched.Options{}, []string{"python", "train.py"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	want := []string{
		"srun", "-u",
		"--nodes=2", "--ntasks=8", "--ntasks-per-node=4",
		"--nodelist=node01,node02",
		"python", "train.py",
	}
	if !reflect.DeepEqual(lc.Args, want) {
		t.Errorf("args = %v, want %v", lc.Args, want)
	}
}

func TestSynthesizeOptions(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"node01"}, ProcsPerNode: 2}
	opts := sched.Options{
		JobName:          "train",
		Partition:        "gpu",
		Account:          "proj",
		Reservation:      "dat",
		TimeLimitMinutes: 90,
		WorkDir:          "/scratch/run",
		GPUsPerProc:      1,
		LauncherFlags:    []string{"--exclusive"},
	}
	lc, err := New().Synthesize(topo, opts, []string{"app"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	joined := strings.Join(lc.Args, " ")
	for _, frag := range []string{
		"--gpus-per-task=1",
		"--chdir=/scratch/run",
		"--time=0-01:30:00",
		"--job-name=train",
		"--partition=gpu",
		"--account=proj",
		"--reservation=dat",
		"--exclusive",
	} {
		if !strings.Contains(joined, frag) {
			t.Errorf("args missing %q: %s", frag, joined)
		}
	}
}

func TestSynthesizeBatch(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"node01"}, ProcsPerNode: 1}
	lc, err := New().Synthesize(topo, sched.Options{Batch: true}, []string{"python", "train.py"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if lc.Args[0] != "sbatch" {
		t.Errorf("args[0] = %s, want sbatch", lc.Args[0])
	}
	last := lc.Args[len(lc.Args)-1]
	if last != "python train.py" || lc.Args[len(lc.Args)-2] != "--wrap" {
		t.Errorf("batch tail = %v", lc.Args[len(lc.Args)-2:])
	}
}

func TestSynthesizeSaveHostlist(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"a", "b"}, ProcsPerNode: 1}
	lc, err := New().Synthesize(topo, sched.Options{SaveHostlist: true}, []string{"app"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if lc.Env["HPCRUN_HOSTLIST"] != "a,b" {
		t.Errorf("HPCRUN_HOSTLIST = %q", lc.Env["HPCRUN_HOSTLIST"])
	}
}

func TestSynthesizeEmptyCommand(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"node01"}, ProcsPerNode: 1}
	if _, err := New().Synthesize(topo, sched.Options{}, nil); err == nil {
		t.Error("empty command should fail")
	}
}

func TestTimeString(t *testing.T) {
	tests := []struct {
		minutes int
		want    string
	}{
		{0, "0-00:00:00"},
		{30, "0-00:30:00"},
		{90, "0-01:30:00"},
		{1440, "1-00:00:00"},
		{1530, "1-01:30:00"},
	}
	for _, tt := range tests {
		if got := timeString(tt.minutes); got != tt.want {
			t.Errorf("timeString(%d) = %s, want %s", tt.minutes, got, tt.want)
		}
	}
}
