package api

// v0 contains public types for early SDK usage.

// LaunchSpec is a reusable job description that can be stored as a YAML
// file and handed to the launcher instead of individual flags.
type LaunchSpec struct {
	Name         string            `json:"name" yaml:"name"`
	Command      string            `json:"command" yaml:"command"`
	Args         []string          `json:"args" yaml:"args"`
	Env          map[string]string `json:"env" yaml:"env"`
	Nodes        int               `json:"nodes" yaml:"nodes"`
	ProcsPerNode int               `json:"procs_per_node" yaml:"procs_per_node"`
	GPUsPerProc  int               `json:"gpus_per_proc" yaml:"gpus_per_proc"`
}

type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)
