//go:build windows

package process

import "golang.org/x/sys/windows"

// ApplyLimit lowers the process priority class when a CPU limit below the
// default bucket is configured. Windows offers no niceness levels, so any
// limit under 75% maps to BELOW_NORMAL. Failures are swallowed; this is
// best-effort by contract. The memory limit is recorded only.
func ApplyLimit(pid int, cpuLimit float64, _ int64) {
	if pid <= 0 || cpuLimit >= 75 {
		return
	}
	h, err := windows.OpenProcess(windows.PROCESS_SET_INFORMATION, false, uint32(pid))
	if err != nil {
		return
	}
	defer func() { _ = windows.CloseHandle(h) }()
	_ = windows.SetPriorityClass(h, windows.BELOW_NORMAL_PRIORITY_CLASS)
}
