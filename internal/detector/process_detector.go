package detector

import (
	"fmt"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ProcessDetector checks the OS process table for a given PID.
// A zombie entry counts as not alive: the process has exited and only
// awaits reaping, so the application it represents is gone.
type ProcessDetector struct{ PID int }

func (d ProcessDetector) Alive() (bool, error) {
	if !pidAlive(d.PID) {
		return false, nil
	}
	p, err := gopsproc.NewProcess(int32(d.PID))
	if err != nil {
		return false, nil
	}
	statuses, err := p.Status()
	if err != nil {
		// Signal check already succeeded; treat status failure as alive.
		return true, nil
	}
	for _, s := range statuses {
		if s == gopsproc.Zombie {
			return false, nil
		}
	}
	return true, nil
}

func (d ProcessDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }
