// Package protocol defines the wire envelope exchanged with serverless
// endpoints. Arguments and results travel as opaque encoded strings; the
// control plane never inspects them, it only moves them through a Codec.
package protocol

// ExecutionType selects the remote execution path.
type ExecutionType string

const (
	// ExecutionTypeFunction targets a plain decorated function.
	ExecutionTypeFunction ExecutionType = "function"

	// ExecutionTypeClass targets a method on a class-based target.
	ExecutionTypeClass ExecutionType = "class"
)

// CallEnvelope is the request document POSTed to an endpoint.
type CallEnvelope struct {
	// FunctionName is the registered name of the callee.
	FunctionName string `json:"function_name"`

	// ExecutionType is "function" or "class".
	ExecutionType ExecutionType `json:"execution_type"`

	// Args are the encoded positional arguments.
	Args []string `json:"args"`

	// Kwargs are the encoded keyword arguments.
	Kwargs map[string]string `json:"kwargs"`

	// Dependencies lists extra requirements the callee needs installed.
	Dependencies []string `json:"dependencies,omitempty"`
}

// CallResult is the response document returned by an endpoint.
type CallResult struct {
	// Success is false when the callee raised.
	Success bool `json:"success"`

	// Result is the encoded return value on success.
	Result string `json:"result,omitempty"`

	// Error carries the callee's error text on failure.
	Error string `json:"error,omitempty"`

	// Stdout is the captured standard output of the call.
	Stdout string `json:"stdout,omitempty"`
}

// JobStatus is the lifecycle state of an asynchronous job.
type JobStatus string

const (
	JobStatusInQueue    JobStatus = "IN_QUEUE"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobState is the response of the status endpoint for an async job.
type JobState struct {
	// ID is the job identifier returned by the run endpoint.
	ID string `json:"id"`

	// Status is the job lifecycle state.
	Status JobStatus `json:"status"`

	// Output is the call result once the job reaches a terminal state.
	Output *CallResult `json:"output,omitempty"`
}
