package launch

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/hpcrun/hpcrun/internal/sched"
)

// Executor spawns the synthesized command as exactly one child process and
// blocks until it terminates. Stdio defaults to the current process's
// streams; tests substitute buffers.
type Executor struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func NewExecutor() *Executor {
	return &Executor{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Execute runs the launch command with the extra environment merged on top
// of the current one (the command's values win on conflict). The child's
// exit code is returned unchanged; death by signal surfaces as 128+signum
// rather than being coerced to zero. SIGINT/SIGTERM received while waiting
// are forwarded to the child's process group so the scheduler job is torn
// down with the front end. No retry on failure.
func (e *Executor) Execute(ctx context.Context, lc sched.LaunchCommand) (int, error) {
	if len(lc.Args) == 0 {
		return -1, LaunchError{Command: "", Err: errors.New("empty command")}
	}
	cmd := exec.Command(lc.Args[0], lc.Args[1:]...)
	cmd.Stdin = e.Stdin
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	cmd.Env = MergedEnv(lc.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	log.Debug().Strs("argv", lc.Args).Msg("spawning launch command")
	if err := cmd.Start(); err != nil {
		return -1, LaunchError{Command: lc.Args[0], Err: err}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		ctxDone := ctx.Done()
		for {
			select {
			case sig := <-sigCh:
				if s, ok := sig.(syscall.Signal); ok {
					log.Warn().Str("signal", s.String()).Msg("forwarding signal to child process group")
					_ = syscall.Kill(-cmd.Process.Pid, s)
				}
			case <-ctxDone:
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
				ctxDone = nil
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	signal.Stop(sigCh)
	close(done)

	if err != nil {
		// Non-zero exit is a result, not a launch failure.
		if code, ok := exitStatus(err); ok {
			return code, nil
		}
		return -1, LaunchError{Command: lc.Args[0], Err: err}
	}
	return 0, nil
}

// exitStatus extracts the child's exit code from a Wait error. Death by
// signal maps to 128+signum.
func exitStatus(err error) (int, bool) {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, false
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), true
	}
	return exitErr.ExitCode(), true
}

// MergedEnv overlays extra variables on the current environment in sorted
// key order. Later entries win, so the launch command's values take
// precedence.
func MergedEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
