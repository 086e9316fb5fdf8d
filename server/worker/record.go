package worker

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
)

type Status int

const (
	Running Status = iota
	Exited
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Record is the supervisor's view of one forked worker. A replacement always
// gets a new Record with a new ID; records are never reused.
type Record struct {
	ID   uuid.UUID
	Slot int
	Pid  int

	Status   Status
	ExitCode *int
	Signal   *string

	StartedAt time.Time
	ExitedAt  time.Time
}

func newRecord(slot int, pid int, now time.Time) Record {
	return Record{
		ID:        uuid.New(),
		Slot:      slot,
		Pid:       pid,
		Status:    Running,
		StartedAt: now,
	}
}

func (r *Record) markExited(state *os.ProcessState, now time.Time) {
	r.Status = Exited
	r.ExitedAt = now

	if state == nil {
		return
	}
	waitStatus, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		code := state.ExitCode()
		r.ExitCode = &code
		return
	}
	switch {
	case waitStatus.Signaled():
		sig := waitStatus.Signal().String()
		r.Signal = &sig
	case waitStatus.Exited():
		code := waitStatus.ExitStatus()
		r.ExitCode = &code
	}
}

func (r Record) String() string {
	s := fmt.Sprintf("worker %d (slot %d, %s) %s", r.Pid, r.Slot, r.ID, r.Status)
	if r.ExitCode != nil {
		s += fmt.Sprintf(", code %d", *r.ExitCode)
	}
	if r.Signal != nil {
		s += fmt.Sprintf(", signal %s", *r.Signal)
	}
	return s
}
