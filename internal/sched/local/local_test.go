package local

import (
	"reflect"
	"testing"

	"github.com/hpcrun/hpcrun/internal/sched"
)

func TestSynthesizePassthrough(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"laptop"}, ProcsPerNode: 1}
	userCmd := []string{"python", "train.py", "--lr", "0.1"}
	lc, err := New().Synthesize(topo, sched.Options{}, userCmd)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !reflect.DeepEqual(lc.Args, userCmd) {
		t.Errorf("args = %v, want %v", lc.Args, userCmd)
	}
	// The copy must not alias the caller's slice.
	lc.Args[0] = "mutated"
	if userCmd[0] != "python" {
		t.Error("Synthesize aliased the user command slice")
	}
}

func TestSynthesizeMultiProcess(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"laptop"}, ProcsPerNode: 2}
	_, err := New().Synthesize(topo, sched.Options{}, []string{"app"})
	if _, ok := err.(sched.ConfigError); !ok {
		t.Fatalf("want ConfigError for world size 2, got %v", err)
	}
}

func TestSynthesizeBatchUnsupported(t *testing.T) {
	topo := sched.Topology{NodeNames: []string{"laptop"}, ProcsPerNode: 1}
	_, err := New().Synthesize(topo, sched.Options{Batch: true}, []string{"app"})
	if _, ok := err.(sched.UnsupportedSchedulerError); !ok {
		t.Fatalf("want UnsupportedSchedulerError, got %v", err)
	}
}
