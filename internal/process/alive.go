package process

import (
	gops "github.com/shirou/gopsutil/v4/process"
)

// Alive reports whether pid refers to a live process. Zombies count as dead:
// a quickly-exiting child lingers in that state until reaped.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := gops.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	if sts, err := p.Status(); err == nil {
		for _, s := range sts {
			if s == gops.Zombie {
				return false
			}
		}
	}
	return true
}
