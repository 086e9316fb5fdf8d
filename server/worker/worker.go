package worker

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/golang/glog"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/porpoises/clusterapp/server/config"
)

// WorkerOptions describes how to start one worker process.
type WorkerOptions struct {
	Path string
	Args []string
	Env  []string

	// Listener, if set, is passed to the worker as descriptor 3.
	Listener *os.File

	Stdout io.Writer
	Stderr io.Writer
}

// DefaultWorkerOptions re-executes the running binary with its own arguments
// and environment.
func DefaultWorkerOptions() (WorkerOptions, error) {
	path, err := os.Executable()
	if err != nil {
		return WorkerOptions{}, errors.Wrap(err, "cannot locate own executable")
	}
	return WorkerOptions{
		Path:   path,
		Args:   os.Args[1:],
		Env:    os.Environ(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

// Worker is one running worker process.
type Worker struct {
	Record

	cmd *exec.Cmd
}

func newWorker(ctx context.Context, opts *WorkerOptions, slot int) (*Worker, error) {
	cmd := exec.CommandContext(ctx, opts.Path, opts.Args...)

	cmd.Env = append(append([]string{}, opts.Env...), config.RoleEnv+"="+string(config.RoleWorker))
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if opts.Listener != nil {
		cmd.ExtraFiles = []*os.File{opts.Listener}
	}
	cmd.SysProcAttr = sysProcAttr()

	glog.V(1).Infof("Forking worker for slot %d: %s", slot, shellquote.Join(cmd.Args...))

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to fork worker for slot %d", slot)
	}

	return &Worker{
		Record: newRecord(slot, cmd.Process.Pid, time.Now()),
		cmd:    cmd,
	}, nil
}

// wait blocks until the process terminates and returns its final state.
func (w *Worker) wait() *os.ProcessState {
	if err := w.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ProcessState
		}
		glog.Warningf("Waiting for worker %d: %v", w.Pid, err)
	}
	return w.cmd.ProcessState
}
