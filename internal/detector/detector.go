package detector

// Detector is a strategy that determines if the managed application is running.
// Implementations may check a PID, a PID file, or run a probe command.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the application is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
