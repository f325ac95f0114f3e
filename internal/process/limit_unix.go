//go:build !windows

package process

import "syscall"

// ApplyLimit biases the OS scheduler against a bot that is configured with a
// low CPU share. The limit is a hint, not a cap: <50% maps to a strongly
// niced process, <75% to a mildly niced one, anything above runs at the
// default priority. The memory limit is recorded only and never enforced.
// Failures are swallowed.
func ApplyLimit(pid int, cpuLimit float64, _ int64) {
	if pid <= 0 {
		return
	}
	nice := 0
	switch {
	case cpuLimit < 50:
		nice = 10
	case cpuLimit < 75:
		nice = 5
	}
	if nice == 0 {
		return
	}
	_ = syscall.Setpriority(syscall.PRIO_PROCESS, pid, nice)
}
