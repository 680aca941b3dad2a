package launch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hpcrun/hpcrun/internal/sched"
	gssh "github.com/hpcrun/hpcrun/internal/ssh"
)

// Fanout launches one process per rank itself when no scheduler owns the
// job: local ranks through os/exec, remote ranks over SSH. Every rank's
// environment comes from the same Rendezvous, so no coordination is needed.
type Fanout struct {
	SSHUser     string
	SSHPort     int
	KeyPath     string
	KnownHosts  string
	Timeout     time.Duration
	Concurrency int
	PushFiles   []string
	Stdout      io.Writer
	Stderr      io.Writer
}

// Launch fans userCmd out across the topology and blocks until every rank
// exits. The first non-zero rank exit code is returned; a rank that failed
// to start at all is an error.
func (f *Fanout) Launch(ctx context.Context, topo sched.Topology, rv Rendezvous, extraEnv map[string]string, userCmd []string) (int, error) {
	if len(userCmd) == 0 {
		return -1, sched.ConfigError{Message: "no command to launch"}
	}
	local := Hostname()
	stdout, stderr := f.Stdout, f.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	clients, err := f.remoteClients(ctx, topo, local)
	if err != nil {
		return -1, err
	}

	world := topo.WorldSize()
	concurrency := f.Concurrency
	if concurrency <= 0 {
		concurrency = world
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	exit := 0
	var firstErr error

	for idx := 0; idx < world; idx++ {
		env, err := rv.ProcessEnv(idx)
		if err != nil {
			return -1, err
		}
		for k, v := range extraEnv {
			if _, ok := env[k]; !ok {
				env[k] = v
			}
		}
		node := topo.NodeNames[idx/topo.ProcsPerNode]

		wg.Add(1)
		go func(idx int, node string, env map[string]string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			code, err := f.runRank(ctx, node, local, clients[node], env, userCmd, stdout, stderr)
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("rank %d on %s: %w", idx, node, err)
			}
			if code != 0 && exit == 0 {
				exit = code
			}
			mu.Unlock()
		}(idx, node, env)
	}
	wg.Wait()

	if firstErr != nil {
		return -1, firstErr
	}
	return exit, nil
}

// remoteClients builds one SSH client per remote node and stages any push
// files, before a single rank starts.
func (f *Fanout) remoteClients(ctx context.Context, topo sched.Topology, local string) (map[string]*gssh.Client, error) {
	clients := map[string]*gssh.Client{}
	var remote []string
	for _, node := range topo.NodeNames {
		if !isLocalNode(node, local) {
			remote = append(remote, node)
		}
	}
	if len(remote) == 0 {
		return clients, nil
	}

	signer, err := gssh.LoadSigner(f.KeyPath)
	if err != nil {
		return nil, LaunchError{Command: "ssh", Err: err}
	}
	hostKey, err := gssh.KnownHostsCallback(f.KnownHosts)
	if err != nil {
		return nil, LaunchError{Command: "ssh", Err: err}
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	for _, node := range remote {
		clients[node] = &gssh.Client{
			Host:    node,
			Port:    f.SSHPort,
			User:    f.SSHUser,
			Signer:  signer,
			HostKey: hostKey,
			Timeout: timeout,
		}
	}
	for _, node := range remote {
		for _, file := range f.PushFiles {
			log.Debug().Str("node", node).Str("file", file).Msg("staging file")
			if err := clients[node].Push(ctx, file, file); err != nil {
				return nil, LaunchError{Command: "sftp", Err: err}
			}
		}
	}
	return clients, nil
}

func (f *Fanout) runRank(ctx context.Context, node, local string, client *gssh.Client, env map[string]string, userCmd []string, stdout, stderr io.Writer) (int, error) {
	if isLocalNode(node, local) {
		cmd := exec.CommandContext(ctx, userCmd[0], userCmd[1:]...)
		cmd.Env = MergedEnv(env)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		if err := cmd.Start(); err != nil {
			return -1, LaunchError{Command: userCmd[0], Err: err}
		}
		if err := cmd.Wait(); err != nil {
			if code, ok := exitStatus(err); ok {
				return code, nil
			}
			return -1, LaunchError{Command: userCmd[0], Err: err}
		}
		return 0, nil
	}
	if client == nil {
		return -1, LaunchError{Command: "ssh", Err: fmt.Errorf("no client for node %s", node)}
	}
	return client.Run(ctx, remoteCommand(env, userCmd), stdout, stderr)
}

// remoteCommand renders the rank environment and user command as a single
// shell line. sshd refuses Setenv for arbitrary names, so env(1) carries
// the variables instead.
func remoteCommand(env map[string]string, userCmd []string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{"env"}
	for _, k := range keys {
		parts = append(parts, shellQuote(k+"="+env[k]))
	}
	for _, a := range userCmd {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'`$\\&|;<>(){}[]*?~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isLocalNode(node, local string) bool {
	switch node {
	case local, "localhost", "127.0.0.1":
		return true
	}
	// Schedulers hand out short names; the kernel may report the FQDN.
	return strings.HasPrefix(local, node+".")
}
