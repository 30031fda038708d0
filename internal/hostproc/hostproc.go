// Package hostproc provides process discovery and launch helpers consumed
// by the source-host bridge's attach state machine (spec §4.3): is the
// automation host's process already running, and if not, start it.
//
// Grounded on the teacher's own process-liveness concerns (cmd/epdcal/main.go
// uses os/exec + OS signals for its own lifecycle) generalized with
// github.com/shirou/gopsutil/v3/process, the ecosystem's standard choice in
// this corpus for enumerating the running process set without shelling out
// to platform tools (ps/tasklist) — see the autonomous-task-management repo's
// use of the same gopsutil family for host introspection.
package hostproc

import (
	"context"
	"os/exec"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v3/process"

	"icloudsyncd/internal/logging"
)

// ProcessLister abstracts process enumeration so probe_running is
// unit-testable without a real OS process table.
type ProcessLister interface {
	ListProcessNames() ([]string, error)
}

// gopsutilLister is the production ProcessLister, backed by gopsutil.
type gopsutilLister struct{}

func (gopsutilLister) ListProcessNames() ([]string, error) {
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// DefaultLister is the process-table-backed ProcessLister used in production.
var DefaultLister ProcessLister = gopsutilLister{}

// FindRunning reports whether a process named processName (case-insensitive,
// exact match) is present in lister's current process list.
func FindRunning(lister ProcessLister, processName string) (bool, error) {
	names, err := lister.ListProcessNames()
	if err != nil {
		return false, err
	}
	target := strings.ToLower(processName)
	for _, n := range names {
		if strings.ToLower(n) == target {
			return true, nil
		}
	}
	return false, nil
}

// Launch starts the executable at path detached from this process, per
// spec §4.3's launch_host step. It returns once the process has been
// started, not once it has finished initializing — callers poll
// WaitProcessUp afterward.
func Launch(path string) error {
	cmd := exec.Command(path)
	return cmd.Start()
}

// WaitProcessUp polls lister for processName every probeInterval until it
// appears or ctx/timeout elapses (spec §4.3: "≤30s, ≤1s probe intervals").
func WaitProcessUp(ctx context.Context, lister ProcessLister, processName string, timeout, probeInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		up, err := FindRunning(lister, processName)
		if err != nil {
			logging.Warn("hostproc: process probe failed", "process", processName, "err", err)
		} else if up {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
