package worker

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Workers must not outlive a supervisor that was killed outright.
//
// The kernel delivers Pdeathsig when the forking OS thread exits, not the
// process. Forks run on ordinary goroutines, and the runtime only retires a
// thread when a goroutine exits while locked to it; nothing in this package
// calls runtime.LockOSThread, so the forking thread lives as long as the
// supervisor.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Pdeathsig: unix.SIGKILL,
	}
}
