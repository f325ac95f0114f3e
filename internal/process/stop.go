package process

import (
	"fmt"
	"time"

	gops "github.com/shirou/gopsutil/v4/process"
)

// killGrace is how long StopTree waits after the escalated kill before
// declaring the process unkillable.
const killGrace = time.Second

// TerminationError reports a process that survived both the graceful
// terminate and the escalated kill.
type TerminationError struct {
	PID int
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("process %d did not terminate", e.PID)
}

// StopTree gracefully terminates pid and all of its descendants, waits up to
// wait for the process to exit, then escalates to a forceful kill. A nil
// return means the process is gone; a TerminationError means it survived the
// kill.
func StopTree(pid int, wait time.Duration) error {
	p, err := gops.NewProcess(int32(pid))
	if err != nil {
		return nil // already gone
	}
	kids := descendants(p)
	for _, k := range kids {
		_ = k.Terminate()
	}
	_ = p.Terminate()

	if waitGone(pid, wait) {
		return nil
	}
	for _, k := range kids {
		_ = k.Kill()
	}
	_ = p.Kill()
	if waitGone(pid, killGrace) {
		return nil
	}
	return &TerminationError{PID: pid}
}

// descendants walks the process tree below p, depth-first.
func descendants(p *gops.Process) []*gops.Process {
	var out []*gops.Process
	kids, err := p.Children()
	if err != nil {
		return out
	}
	for _, k := range kids {
		out = append(out, descendants(k)...)
		out = append(out, k)
	}
	return out
}

func waitGone(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !Alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
