package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hpcrun/hpcrun/internal/launch"
	"github.com/hpcrun/hpcrun/internal/sched"
	fluxsched "github.com/hpcrun/hpcrun/internal/sched/flux"
	localsched "github.com/hpcrun/hpcrun/internal/sched/local"
	lsfsched "github.com/hpcrun/hpcrun/internal/sched/lsf"
	slurmsched "github.com/hpcrun/hpcrun/internal/sched/slurm"
	"github.com/hpcrun/hpcrun/internal/telemetry"
	"github.com/hpcrun/hpcrun/pkg/api"
)

// Build the synthesizer registry
func newRegistry() *sched.Registry {
	reg := sched.NewRegistry()
	reg.Register(slurmsched.New())
	reg.Register(lsfsched.New())
	reg.Register(fluxsched.New())
	reg.Register(localsched.New())
	return reg
}

// resolveKind picks the scheduler: explicit flag, then config, then system
// profile preference, then detection.
func resolveKind(flagVal string, cfg launch.Config, profile launch.SystemProfile, env sched.Environ) (sched.Kind, error) {
	for _, s := range []string{flagVal, cfg.Scheduler, profile.Scheduler} {
		if s != "" && s != "auto" {
			return sched.ParseKind(s)
		}
	}
	return sched.Detect(env), nil
}

// Launch a distributed job
func newLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch [flags] -- program [args...]",
		Short: "Launch a distributed job through the detected scheduler",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := launch.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			nodes, _ := cmd.Flags().GetInt("nodes")
			procs, _ := cmd.Flags().GetInt("procs-per-node")
			gpus, _ := cmd.Flags().GetInt("gpus-per-proc")
			nodeList, _ := cmd.Flags().GetStringSlice("nodelist")
			port, _ := cmd.Flags().GetInt("port")
			schedFlag, _ := cmd.Flags().GetString("scheduler")
			specPath, _ := cmd.Flags().GetString("spec")
			pushFiles, _ := cmd.Flags().GetStringSlice("push")
			metricsOn, _ := cmd.Flags().GetBool("metrics")

			userEnv := map[string]string{}
			if specPath != "" {
				spec, err := loadLaunchSpec(specPath)
				if err != nil {
					return err
				}
				if len(args) == 0 && spec.Command != "" {
					args = append([]string{spec.Command}, spec.Args...)
				}
				if !cmd.Flags().Changed("nodes") && spec.Nodes > 0 {
					nodes = spec.Nodes
				}
				if !cmd.Flags().Changed("procs-per-node") && spec.ProcsPerNode > 0 {
					procs = spec.ProcsPerNode
				}
				if !cmd.Flags().Changed("gpus-per-proc") && spec.GPUsPerProc > 0 {
					gpus = spec.GPUsPerProc
				}
				for k, v := range spec.Env {
					userEnv[k] = v
				}
			}
			if len(args) == 0 {
				return sched.ConfigError{Message: "no command to launch; pass it after --"}
			}

			env := sched.OSEnviron()
			profile, _ := cfg.MatchProfile(launch.Hostname())
			kind, err := resolveKind(schedFlag, cfg, profile, env)
			if err != nil {
				return err
			}

			collector := telemetry.NewCollector(metricsOn)
			defer collector.Flush()

			req := launch.ResourceRequest{
				Nodes:        nodes,
				ProcsPerNode: procs,
				NodeList:     nodeList,
				GPUsPerProc:  gpus,
			}
			var topo sched.Topology
			if err := collector.Phase("normalize", func() error {
				var err error
				topo, err = launch.Normalize(req, kind, env)
				return err
			}); err != nil {
				return err
			}

			rv := launch.NewRendezvous(topo, launch.ResolvePort(port, env, cfg.Rendezvous.Port))
			log.Info().
				Str("scheduler", string(kind)).
				Int("nodes", topo.NumNodes()).
				Int("procs_per_node", topo.ProcsPerNode).
				Int("world_size", topo.WorldSize()).
				Str("master_addr", rv.Addr).
				Int("master_port", rv.Port).
				Msg("launch plan ready")

			// Profile tuning first, user env over it, rendezvous values win.
			extraEnv := profile.ProfileEnv()
			for k, v := range userEnv {
				extraEnv[k] = v
			}
			for k, v := range rv.SharedEnv() {
				extraEnv[k] = v
			}

			startedAt := time.Now()
			var code int
			if kind == sched.Local && topo.WorldSize() > 1 {
				code, err = runFanout(cmd, cfg, topo, rv, extraEnv, pushFiles, args, collector)
			} else {
				code, err = runScheduled(cmd, cfg, kind, topo, profile, extraEnv, args, collector)
			}
			if err != nil {
				return err
			}

			recordHistory(cmd, cfg, kind, topo, args, startedAt, code)
			collector.Flush()
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().IntP("nodes", "N", 1, "number of nodes")
	cmd.Flags().IntP("procs-per-node", "n", 1, "processes per node")
	cmd.Flags().Int("gpus-per-proc", 0, "GPUs bound to each process")
	cmd.Flags().StringSlice("nodelist", nil, "explicit node names (comma separated)")
	cmd.Flags().Int("port", 0, "rendezvous port (default 23456, or HPCRUN_PORT)")
	cmd.Flags().String("scheduler", "auto", "scheduler: auto, slurm, lsf, flux or local")
	cmd.Flags().String("spec", "", "YAML launch spec file")
	cmd.Flags().String("job-name", "", "scheduler job name")
	cmd.Flags().String("partition", "", "partition or queue")
	cmd.Flags().String("account", "", "account to charge")
	cmd.Flags().String("reservation", "", "reservation to use")
	cmd.Flags().Int("time", 0, "time limit in minutes")
	cmd.Flags().String("chdir", "", "working directory for the job")
	cmd.Flags().Bool("batch", false, "submit as a batch job instead of blocking (SLURM only)")
	cmd.Flags().Bool("save-hostlist", false, "export the allocation hostlist to the job")
	cmd.Flags().StringSlice("push", nil, "files to stage onto remote nodes before a fan-out launch")
	cmd.Flags().Bool("metrics", false, "record launch-phase timings")
	return cmd
}

func runScheduled(cmd *cobra.Command, cfg launch.Config, kind sched.Kind, topo sched.Topology, profile launch.SystemProfile, extraEnv map[string]string, args []string, collector *telemetry.Collector) (int, error) {
	jobName, _ := cmd.Flags().GetString("job-name")
	partition, _ := cmd.Flags().GetString("partition")
	account, _ := cmd.Flags().GetString("account")
	reservation, _ := cmd.Flags().GetString("reservation")
	timeLimit, _ := cmd.Flags().GetInt("time")
	workDir, _ := cmd.Flags().GetString("chdir")
	gpus, _ := cmd.Flags().GetInt("gpus-per-proc")
	batch, _ := cmd.Flags().GetBool("batch")
	saveHostlist, _ := cmd.Flags().GetBool("save-hostlist")

	synth, err := newRegistry().Get(kind)
	if err != nil {
		return -1, err
	}
	opts := sched.Options{
		JobName:          jobName,
		Partition:        partition,
		Account:          account,
		Reservation:      reservation,
		TimeLimitMinutes: timeLimit,
		WorkDir:          workDir,
		GPUsPerProc:      gpus,
		LauncherFlags:    profile.LauncherFlags,
		Batch:            batch,
		SaveHostlist:     saveHostlist,
	}
	var lc sched.LaunchCommand
	if err := collector.Phase("synthesize", func() error {
		var err error
		lc, err = synth.Synthesize(topo, opts, args)
		return err
	}); err != nil {
		return -1, err
	}
	for k, v := range extraEnv {
		if _, ok := lc.Env[k]; !ok {
			lc.Env[k] = v
		}
	}

	var code int
	err = collector.Phase("execute", func() error {
		var err error
		code, err = launch.NewExecutor().Execute(cmd.Context(), lc)
		return err
	})
	return code, err
}

func runFanout(cmd *cobra.Command, cfg launch.Config, topo sched.Topology, rv launch.Rendezvous, extraEnv map[string]string, pushFiles, args []string, collector *telemetry.Collector) (int, error) {
	home, _ := os.UserHomeDir()
	f := &launch.Fanout{
		SSHUser:     cfg.SSH.User,
		SSHPort:     cfg.SSH.Port,
		KeyPath:     cfg.SSH.KeyPath,
		KnownHosts:  cfg.SSH.KnownHosts,
		Concurrency: cfg.SSH.Concurrency,
		PushFiles:   pushFiles,
	}
	if f.SSHUser == "" {
		f.SSHUser = os.Getenv("USER")
	}
	if f.KeyPath == "" {
		f.KeyPath = home + "/.ssh/id_ed25519"
	}
	if f.KnownHosts == "" {
		f.KnownHosts = home + "/.ssh/known_hosts"
	}

	var code int
	err := collector.Phase("execute", func() error {
		var err error
		code, err = f.Launch(cmd.Context(), topo, rv, extraEnv, args)
		return err
	})
	return code, err
}

func recordHistory(cmd *cobra.Command, cfg launch.Config, kind sched.Kind, topo sched.Topology, args []string, startedAt time.Time, code int) {
	if cfg.History.Disabled {
		return
	}
	st, err := launch.OpenStore(cfg.HistoryPath())
	if err != nil {
		log.Warn().Err(err).Msg("launch history unavailable")
		return
	}
	defer st.Close()
	state := api.JobSucceeded
	if code != 0 {
		state = api.JobFailed
	}
	rec := launch.LaunchRecord{
		ID:           uuid.NewString(),
		StartedAt:    startedAt,
		Scheduler:    string(kind),
		Nodes:        topo.NumNodes(),
		ProcsPerNode: topo.ProcsPerNode,
		WorldSize:    topo.WorldSize(),
		Command:      strings.Join(args, " "),
		State:        state,
		ExitCode:     code,
	}
	if err := st.RecordLaunch(cmd.Context(), rec); err != nil {
		log.Warn().Err(err).Msg("could not record launch")
	}
}

func loadLaunchSpec(path string) (api.LaunchSpec, error) {
	var spec api.LaunchSpec
	content, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read launch spec: %w", err)
	}
	if err := yaml.Unmarshal(content, &spec); err != nil {
		return spec, fmt.Errorf("parse launch spec: %w", err)
	}
	return spec, nil
}

// Report the detected scheduler
func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Print the scheduler owning the current allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(string(sched.Detect(sched.OSEnviron())))
			return nil
		},
	}
}

// Per-process environment wrapper
func newEnvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env [flags] [-- program [args...]]",
		Short: "Resolve the per-process distributed environment and optionally run a program in it",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := launch.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			index, _ := cmd.Flags().GetInt("index")
			nodes, _ := cmd.Flags().GetInt("nodes")
			procs, _ := cmd.Flags().GetInt("procs-per-node")
			nodeList, _ := cmd.Flags().GetStringSlice("nodelist")
			port, _ := cmd.Flags().GetInt("port")
			schedFlag, _ := cmd.Flags().GetString("scheduler")

			env := sched.OSEnviron()
			kind, err := resolveKind(schedFlag, cfg, launch.SystemProfile{}, env)
			if err != nil {
				return err
			}
			resolvedPort := launch.ResolvePort(port, env, cfg.Rendezvous.Port)

			var envMap map[string]string
			if index >= 0 {
				// Explicit index: recompute identity from the topology.
				req := launch.ResourceRequest{Nodes: nodes, ProcsPerNode: procs, NodeList: nodeList}
				topo, err := launch.Normalize(req, kind, env)
				if err != nil {
					return err
				}
				rv := launch.NewRendezvous(topo, resolvedPort)
				envMap, err = rv.ProcessEnv(index)
				if err != nil {
					return err
				}
			} else {
				// Inside a launched task: the scheduler's own identity wins.
				id, err := launch.SchedulerIdentity(kind, env)
				if err != nil {
					return err
				}
				if id.LocalWorldSize < 1 {
					return sched.AllocationError{Scheduler: kind, Message: "scheduler reports zero tasks per node"}
				}
				req := launch.ResourceRequest{
					Nodes:        id.WorldSize / id.LocalWorldSize,
					ProcsPerNode: id.LocalWorldSize,
				}
				topo, err := launch.Normalize(req, kind, env)
				if err != nil {
					return err
				}
				rv := launch.NewRendezvous(topo, resolvedPort)
				envMap = rv.SharedEnv()
				envMap["RANK"] = fmt.Sprintf("%d", id.Rank)
				envMap["LOCAL_RANK"] = fmt.Sprintf("%d", id.LocalRank)
			}

			if len(args) == 0 {
				keys := make([]string, 0, len(envMap))
				for k := range envMap {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Printf("%s=%s\n", k, envMap[k])
				}
				return nil
			}

			code, err := launch.NewExecutor().Execute(cmd.Context(), sched.LaunchCommand{Args: args, Env: envMap})
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().Int("index", -1, "global process index (default: read the scheduler's identity variables)")
	cmd.Flags().IntP("nodes", "N", 1, "number of nodes (with --index)")
	cmd.Flags().IntP("procs-per-node", "n", 1, "processes per node (with --index)")
	cmd.Flags().StringSlice("nodelist", nil, "explicit node names (with --index)")
	cmd.Flags().Int("port", 0, "rendezvous port override")
	cmd.Flags().String("scheduler", "auto", "scheduler: auto, slurm, lsf, flux or local")
	return cmd
}

// Show launch history
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent launches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := launch.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			st, err := launch.OpenStore(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer st.Close()
			recs, err := st.RecentLaunches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Printf("%s\t%s\t%s\t%dx%d\t%s\texit=%d\t%s\n",
					r.StartedAt.Local().Format(time.RFC3339), r.ID[:8], r.Scheduler,
					r.Nodes, r.ProcsPerNode, r.State, r.ExitCode, r.Command)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum records to list")
	return cmd
}
