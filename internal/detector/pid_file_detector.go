package detector

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFileDetector detects the application via a PID file written at start.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	data, err := os.ReadFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false, fmt.Errorf("invalid pid in %s: %w", d.PIDFile, err)
	}
	return ProcessDetector{PID: pid}.Alive()
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }
