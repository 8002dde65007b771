package bundle

// OutcomeStatus tells whether a best-effort step did its job.
type OutcomeStatus int

const (
	// StatusSucceeded means the step completed.
	StatusSucceeded OutcomeStatus = iota
	// StatusSkipped means the step gave up; the pipeline carries on without it.
	StatusSkipped
)

// Outcome is the result of a best-effort step such as backup or pruning.
type Outcome struct {
	// Status distinguishes success from a skipped step.
	Status OutcomeStatus
	// Reason explains why the step was skipped. Empty on success.
	Reason string
}

// Succeeded returns a successful Outcome.
func Succeeded() Outcome {
	return Outcome{Status: StatusSucceeded}
}

// Skipped returns an Outcome for a step that was abandoned for the given reason.
func Skipped(reason string) Outcome {
	return Outcome{
		Status: StatusSkipped,
		Reason: reason,
	}
}

// IsSkipped reports whether the step was abandoned.
func (o Outcome) IsSkipped() bool {
	return o.Status == StatusSkipped
}

// String renders the outcome for logs.
func (o Outcome) String() string {
	if o.IsSkipped() {
		return "skipped: " + o.Reason
	}

	return "succeeded"
}
