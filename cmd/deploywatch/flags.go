package main

// RunFlags holds the root command flags, decoupled from cobra so the
// command logic is testable without a cobra invocation.
type RunFlags struct {
	ConfigPath string
	Update     bool
	Deploy     bool
	Install    bool
	Uninstall  bool
	Verbose    bool
}
