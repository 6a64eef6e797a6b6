package session

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// LaunchSpec is everything needed to start one subprocess.
type LaunchSpec struct {
	Path   string
	Args   []string
	Output io.Writer // receives stdout and stderr
}

// Process is a running subprocess.
type Process interface {
	PID() int
	// Exited reports whether the process has terminated. It must not block.
	Exited() bool
	// Stop kills the process and its descendants and waits up to timeout
	// for it to exit.
	Stop(timeout time.Duration) error
}

// Launcher starts subprocesses. Launch may block; it is never called on the
// main thread.
type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
}

// ExecLauncher launches the core as an OS process.
type ExecLauncher struct{}

func (ExecLauncher) Launch(spec LaunchSpec) (Process, error) {
	if spec.Path == "" {
		return nil, errors.New("no core executable configured")
	}
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Stdout = spec.Output
	cmd.Stderr = spec.Output
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the wait error once the process has exited.
func (p *execProcess) Err() error {
	if !p.Exited() {
		return nil
	}
	return p.err
}

// exitErr returns why p exited, when p can tell.
func exitErr(p Process) error {
	if e, ok := p.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}

func (p *execProcess) Stop(timeout time.Duration) error {
	if p.Exited() {
		return nil
	}
	if proc, err := process.NewProcess(int32(p.cmd.Process.Pid)); err == nil {
		killChildren(proc)
	}
	if err := p.cmd.Process.Kill(); err != nil && !p.Exited() {
		return fmt.Errorf("kill %d: %w", p.PID(), err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("process %d did not exit within %v", p.PID(), timeout)
	}
}

// killChildren kills every descendant of proc, deepest first.
func killChildren(proc *process.Process) {
	children, err := proc.Children()
	if err != nil {
		return
	}
	for _, c := range children {
		killChildren(c)
		c.Kill()
	}
}
