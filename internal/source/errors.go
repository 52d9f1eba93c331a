package source

import "fmt"

// ConfigurationError reports a connector/descriptor defect: missing or
// invalid connector fields, an unknown source, or required schema metadata
// absent from a task-type descriptor. Never retried.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// NewConfigurationError formats a ConfigurationError.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidVariableError reports a global variable that resolved to null.
type InvalidVariableError struct {
	Name string
}

func (e *InvalidVariableError) Error() string {
	return fmt.Sprintf("global variable %s is null", e.Name)
}

// UnknownSourceError reports a routing failure: no manager registered for
// the requested source.
type UnknownSourceError struct {
	Source Source
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("no manager registered for source: %s", e.Source)
}

// UnsupportedTaskTypeError reports a task type the source manager does not
// declare.
type UnsupportedTaskTypeError struct {
	Source   Source
	TaskType string
}

func (e *UnsupportedTaskTypeError) Error() string {
	return fmt.Sprintf("task type %s not supported for source: %s", e.TaskType, e.Source)
}

// VendorAPIError wraps a failed call to a third-party API with its context.
type VendorAPIError struct {
	Source Source
	Op     string
	Err    error
}

func (e *VendorAPIError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *VendorAPIError) Unwrap() error { return e.Err }
