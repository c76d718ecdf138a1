package generation

import "fmt"

// MisconfiguredError indicates an invalid strategy definition: it is raised
// at construction time and is not retryable.
type MisconfiguredError struct {
	Info string
}

// Error returns the string representation of the error.
func (e *MisconfiguredError) Error() string {
	return "generation strategy is misconfigured: " + e.Info
}

// NewMisconfiguredErrorf creates a MisconfiguredError with a formatted
// message.
func NewMisconfiguredErrorf(format string, args ...interface{}) *MisconfiguredError {
	return &MisconfiguredError{Info: fmt.Sprintf(format, args...)}
}

// StrategyCompletedError signals that an attempted transition would move
// past the final node: the strategy has generated all the trials its nodes
// allow. Callers must treat it as "no more work", not as a failure.
type StrategyCompletedError struct {
	StrategyName string
}

// Error returns the string representation of the error.
func (e *StrategyCompletedError) Error() string {
	return fmt.Sprintf(
		"generation strategy %q generated all the trials specified in its nodes",
		e.StrategyName,
	)
}

// MaxParallelismReachedError signals that generation must pause because the
// experiment has as many running trials as the node allows.
type MaxParallelismReachedError struct {
	NodeName string
	Limit    int
	Running  int
}

// Error returns the string representation of the error.
func (e *MaxParallelismReachedError) Error() string {
	return fmt.Sprintf(
		"node %q reached its parallelism limit: %d trials running, limit %d; "+
			"attach data for running trials before generating more",
		e.NodeName, e.Running, e.Limit,
	)
}
