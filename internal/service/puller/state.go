package puller

// State is a step of the pipeline.
type State int

const (
	// StateInit is the state before anything happened.
	StateInit State = iota
	// StateHealthChecked means the endpoint answered the health check.
	StateHealthChecked
	// StateListed means the catalog was queried, successfully or not.
	StateListed
	// StateBackedUp means a backup was attempted.
	StateBackedUp
	// StateDownloaded means the bundle was fetched.
	StateDownloaded
	// StateDecoded means the bundle was turned into a FileSet.
	StateDecoded
	// StateDeployed means the FileSet was written to the live directories.
	StateDeployed
	// StatePruned means scratch cleanup and backup retention ran.
	StatePruned
	// StateDone is the terminal success state.
	StateDone
	// StateFailed is the terminal failure state.
	StateFailed
)

var stateNames = [...]string{
	StateInit:          "Init",
	StateHealthChecked: "HealthChecked",
	StateListed:        "Listed",
	StateBackedUp:      "BackedUp",
	StateDownloaded:    "Downloaded",
	StateDecoded:       "Decoded",
	StateDeployed:      "Deployed",
	StatePruned:        "Pruned",
	StateDone:          "Done",
	StateFailed:        "Failed",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}

	return stateNames[s]
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}
