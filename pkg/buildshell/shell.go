// Package buildshell runs the upstream build driver (spec.md §4.5) as
// a subprocess and streams its stdout JSON event lines to a caller.
// It is grounded on lazydocker's pkg/commands/os.go (OSCommand: argv
// splitting via mgutz/str, process-group kill via Setpgid/SIGKILL) and
// pkg/tasks/tasks.go (single-in-flight cancelable task: starting a new
// run stops whatever run preceded it), generalized from "run a
// docker/podman CLI command" to "run the build driver and capture its
// event stream."
package buildshell

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/mgutz/str"
	"github.com/sirupsen/logrus"

	"github.com/kraklabs/unitcache/pkg/config"
)

// Platform records the handful of OS-dependent knobs a shelled-out
// command needs.
type Platform struct {
	os       string
	shell    string
	shellArg string
}

func getPlatform() *Platform {
	if runtime.GOOS == "windows" {
		return &Platform{os: "windows", shell: "cmd", shellArg: "/c"}
	}
	return &Platform{os: runtime.GOOS, shell: "bash", shellArg: "-c"}
}

// Shell wraps process execution for the build driver.
type Shell struct {
	Log      *logrus.Entry
	Platform *Platform
	Config   *config.AppConfig
	command  func(string, ...string) *exec.Cmd
}

// NewShell returns a Shell that spawns real subprocesses.
func NewShell(log *logrus.Entry, cfg *config.AppConfig) *Shell {
	return &Shell{
		Log:      log,
		Platform: getPlatform(),
		Config:   cfg,
		command:  exec.Command,
	}
}

// SetCommand overrides the command function used by the struct, for
// testing only.
func (s *Shell) SetCommand(cmd func(string, ...string) *exec.Cmd) {
	s.command = cmd
}

// ExecutableFromString splits commandStr the way a shell would and
// returns a runnable, process-group-isolated *exec.Cmd for it.
func (s *Shell) ExecutableFromString(commandStr string) *exec.Cmd {
	splitCmd := str.ToArgv(commandStr)
	return s.NewCmd(splitCmd[0], splitCmd[1:]...)
}

// NewCmd builds an *exec.Cmd inheriting the current environment,
// placed in its own process group so a cancellation can kill the
// driver's whole child tree rather than just the direct child.
func (s *Shell) NewCmd(cmdName string, args ...string) *exec.Cmd {
	cmd := s.command(cmdName, args...)
	cmd.Env = os.Environ()
	s.PrepareForChildren(cmd)
	return cmd
}

// PrepareForChildren sets Setpgid so Kill can terminate the whole
// process group a build driver may have spawned.
func (s *Shell) PrepareForChildren(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Kill terminates cmd, killing its process group if one was set up by
// PrepareForChildren.
func (s *Shell) Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if cmd.SysProcAttr != nil && cmd.SysProcAttr.Setpgid {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return cmd.Process.Kill()
}

// RunCommandWithOutput splits command into argv with mgutz/str and
// runs it directly (no shell is involved), returning its combined
// output. A failure is wrapped with a stack trace by
// sanitisedCommandOutput; CombinedOutput leaves *exec.ExitError's
// Stderr empty, so the command's stderr is only in the returned output.
func (s *Shell) RunCommandWithOutput(command string) (string, error) {
	cmd := s.ExecutableFromString(command)
	before := time.Now()
	output, err := sanitisedCommandOutput(cmd.CombinedOutput())
	s.Log.Debugf("%q: %s", command, time.Since(before))
	return output, err
}

func sanitisedCommandOutput(output []byte, err error) (string, error) {
	outputString := string(output)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return outputString, goerrors.New(string(exitErr.Stderr))
		}
		return outputString, WrapError(err)
	}
	return outputString, nil
}

// WrapError wraps err with a stack trace for top-level reporting.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 0)
}

// DriverEvent is one line of the build driver's stdout JSON event
// stream, handed to the caller unparsed — pkg/planproj owns the
// schema for decoding it.
type DriverEvent struct {
	Line string
	Err  error
}

// Run is the single in-flight build-driver invocation started by
// Runner.Start; starting a new Run stops whatever Run preceded it,
// mirroring lazydocker's TaskManager.NewTask.
type Run struct {
	cmd  *exec.Cmd
	stop chan struct{}
	done chan struct{}
}

// Runner drives at most one build-driver subprocess at a time.
type Runner struct {
	shell   *Shell
	mu      sync.Mutex
	current *Run
}

// NewRunner returns a Runner that shells out through shell.
func NewRunner(shell *Shell) *Runner {
	return &Runner{shell: shell}
}

// Start launches argv as the build driver, stopping any run already
// in flight first, and streams its stdout lines to events until it
// exits or ctx is canceled. The channel is closed when the run ends;
// its final send, if any, carries the command's error.
func (r *Runner) Start(ctx context.Context, argv []string) (<-chan DriverEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.current.halt()
	}

	cmd := r.shell.NewCmd(argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	run := &Run{cmd: cmd, stop: make(chan struct{}, 1), done: make(chan struct{})}
	r.current = run

	events := make(chan DriverEvent)
	go func() {
		defer close(events)
		defer close(run.done)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(stdout)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				_ = r.shell.Kill(cmd)
				_ = cmd.Wait()
				events <- DriverEvent{Err: ctx.Err()}
				return
			case <-run.stop:
				_ = r.shell.Kill(cmd)
				_ = cmd.Wait()
				return
			case line, ok := <-lines:
				if !ok {
					err := cmd.Wait()
					if err != nil {
						events <- DriverEvent{Err: fmt.Errorf("build driver: %w", err)}
					}
					return
				}
				events <- DriverEvent{Line: line}
			}
		}
	}()

	return events, nil
}

func (run *Run) halt() {
	select {
	case run.stop <- struct{}{}:
	default:
	}
	<-run.done
}
